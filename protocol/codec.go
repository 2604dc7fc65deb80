package protocol

// Codec transforms records between the local store representation and
// the wire representation. The engine runs every pushed record through
// Encode and every pulled record through Decode, so a field-encrypting
// codec can be plugged in without the engine knowing about it.
type Codec interface {
	// Encode transforms a local record for the wire.
	Encode(table string, record RawRecord) (RawRecord, error)

	// Decode transforms a wire record for local storage.
	Decode(table string, record RawRecord) (RawRecord, error)
}

// PassthroughCodec returns records unchanged. The default when no field
// encryption is configured.
type PassthroughCodec struct{}

func (PassthroughCodec) Encode(table string, record RawRecord) (RawRecord, error) {
	return record, nil
}

func (PassthroughCodec) Decode(table string, record RawRecord) (RawRecord, error) {
	return record, nil
}

var _ Codec = PassthroughCodec{}

// EncodeChanges runs every created and updated record through the
// codec, returning a new change set. Deleted ids pass through.
func EncodeChanges(c Codec, changes Changes) (Changes, error) {
	return mapChanges(changes, c.Encode)
}

// DecodeChanges is the pull-side counterpart of EncodeChanges.
func DecodeChanges(c Codec, changes Changes) (Changes, error) {
	return mapChanges(changes, c.Decode)
}

func mapChanges(changes Changes, fn func(string, RawRecord) (RawRecord, error)) (Changes, error) {
	if changes.Empty() {
		return changes, nil
	}
	out := make(Changes, len(changes))
	for table, tc := range changes {
		mapped := TableChanges{Deleted: tc.Deleted}
		for _, rec := range tc.Created {
			r, err := fn(table, rec)
			if err != nil {
				return nil, err
			}
			mapped.Created = append(mapped.Created, r)
		}
		for _, rec := range tc.Updated {
			r, err := fn(table, rec)
			if err != nil {
				return nil, err
			}
			mapped.Updated = append(mapped.Updated, r)
		}
		out[table] = mapped
	}
	return out, nil
}
