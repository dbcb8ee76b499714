package storage

import (
	"reflect"
	"sort"

	sr "github.com/tryfix/schemaregistry/v3"
)

// Keys of the group table.
type (
	// SchemaIDKey maps a schema id to its SchemaRecord.
	SchemaIDKey struct{ ID int32 }
	// ValidationPolicyKey holds the ValidationPolicyRecord of the group.
	ValidationPolicyKey struct{}
	// EtagKey is the concurrency token of the group. The entry version of this key is the etag.
	EtagKey struct{}
	// GroupPropertyKey holds the GroupPropertiesRecord of the group.
	GroupPropertyKey struct{}
	// SchemaFingerprintKey maps a schema fingerprint to the SchemaIDList sharing it.
	SchemaFingerprintKey struct{ Fingerprint uint64 }
	// EncodingInfoRecord maps a (version, codec) pair to its EncodingIDRecord, and is the value
	// of an EncodingIDRecord key.
	EncodingInfoRecord struct {
		Version sr.VersionInfo
		Codec   sr.CodecType
	}
	// EncodingIDRecord maps an encoding id to its EncodingInfoRecord, and is the value of an
	// EncodingInfoRecord key and of LatestEncodingIDKey.
	EncodingIDRecord struct{ ID sr.EncodingID }
	// LatestEncodingIDKey holds the EncodingIDRecord minted last.
	LatestEncodingIDKey struct{}
	// CodecTypeKey maps a codec name to its CodecTypeRecord.
	CodecTypeKey struct{ Name string }
	// CodecTypesKey holds the CodecTypesList of the group.
	CodecTypesKey struct{}
	// LatestSchemasKey holds the LatestSchemasRecord of the group.
	LatestSchemasKey struct{}
	// IndexTypeVersionToIDKey maps (type, version) to a SchemaIDKey value.
	IndexTypeVersionToIDKey struct {
		Type    string
		Version int32
	}
	// VersionDeletedRecord is the tombstone of a deleted schema id.
	VersionDeletedRecord struct{ ID int32 }
	// SchemaIDChunkKey addresses one chunk of a schema blob. Its value is the raw chunk.
	SchemaIDChunkKey struct {
		ID    int32
		Chunk int32
	}
)

// Values of the group table.
type (
	// SchemaRecord is the metadata of a registered schema. The schema bytes live in Chunks
	// SchemaIDChunkKey entries.
	SchemaRecord struct {
		Version     sr.VersionInfo
		Format      sr.SerializationFormat
		Properties  map[string]string
		Chunks      int32
		Size        int64
		Fingerprint uint64
	}

	ValidationPolicyRecord struct{ Policy ValidationPolicy }

	GroupPropertiesRecord struct {
		Format             sr.SerializationFormat
		AllowMultipleTypes bool
		Properties         map[string]string
	}

	SchemaIDList struct{ IDs []int32 }

	CodecTypeRecord struct{ Codec sr.CodecType }

	CodecTypesList struct{ Names []string }

	// LatestSchemasRecord tracks the next schema id and the latest version of every type.
	LatestSchemasRecord struct {
		NextID int32
		ByType map[string]sr.VersionInfo
	}
)

func (SchemaIDKey) record()             {}
func (ValidationPolicyKey) record()     {}
func (EtagKey) record()                 {}
func (GroupPropertyKey) record()        {}
func (SchemaFingerprintKey) record()    {}
func (EncodingInfoRecord) record()      {}
func (EncodingIDRecord) record()        {}
func (LatestEncodingIDKey) record()     {}
func (CodecTypeKey) record()            {}
func (CodecTypesKey) record()           {}
func (LatestSchemasKey) record()        {}
func (IndexTypeVersionToIDKey) record() {}
func (VersionDeletedRecord) record()    {}
func (SchemaIDChunkKey) record()        {}
func (SchemaRecord) record()            {}
func (ValidationPolicyRecord) record()  {}
func (GroupPropertiesRecord) record()   {}
func (SchemaIDList) record()            {}
func (CodecTypeRecord) record()         {}
func (CodecTypesList) record()          {}
func (LatestSchemasRecord) record()     {}

// NewRecordSerializer returns the serializer of every group table record.
//
// Tag 0 is unused. Tags are written to disk: never renumber or repurpose one.
func NewRecordSerializer() *RecordSerializer {
	s := &RecordSerializer{
		byTag:  make(map[Tag]*recordType),
		byType: make(map[reflect.Type]*recordType),
	}

	declare(s, 1, 0,
		func(w *fieldWriter, r SchemaIDKey) { w.int(1, int64(r.ID)) },
		func(b []byte, _ byte) (r SchemaIDKey, err error) {
			err = readFields(b, func(f field) (err error) {
				if f.num == 1 {
					r.ID, err = f.int32()
				}
				return err
			})
			return r, err
		})
	declareSingleton[ValidationPolicyKey](s, 2)
	declareSingleton[EtagKey](s, 3)
	declareSingleton[GroupPropertyKey](s, 4)
	declare(s, 5, 0,
		func(w *fieldWriter, r SchemaFingerprintKey) { w.fixed64(1, r.Fingerprint) },
		func(b []byte, _ byte) (r SchemaFingerprintKey, err error) {
			err = readFields(b, func(f field) (err error) {
				if f.num == 1 {
					r.Fingerprint, err = f.fixed64()
				}
				return err
			})
			return r, err
		})
	declare(s, 6, 0,
		func(w *fieldWriter, r EncodingInfoRecord) {
			w.message(1, func(w *fieldWriter) { writeVersionInfo(w, r.Version) })
			w.message(2, func(w *fieldWriter) { writeCodecType(w, r.Codec) })
		},
		func(b []byte, _ byte) (r EncodingInfoRecord, err error) {
			err = readFields(b, func(f field) (err error) {
				switch f.num {
				case 1:
					r.Version, err = readVersionInfo(f)
				case 2:
					r.Codec, err = readCodecType(f)
				}
				return err
			})
			return r, err
		})
	declare(s, 7, 0,
		func(w *fieldWriter, r EncodingIDRecord) { w.int(1, int64(r.ID)) },
		func(b []byte, _ byte) (r EncodingIDRecord, err error) {
			err = readFields(b, func(f field) (err error) {
				if f.num == 1 {
					var id int32
					id, err = f.int32()
					r.ID = sr.EncodingID(id)
				}
				return err
			})
			return r, err
		})
	declareSingleton[LatestEncodingIDKey](s, 8)
	declare(s, 9, 0,
		func(w *fieldWriter, r CodecTypeKey) { w.string(1, r.Name) },
		func(b []byte, _ byte) (r CodecTypeKey, err error) {
			err = readFields(b, func(f field) (err error) {
				if f.num == 1 {
					r.Name, err = f.string()
				}
				return err
			})
			return r, err
		})
	declareSingleton[CodecTypesKey](s, 10)
	declareSingleton[LatestSchemasKey](s, 11)
	declare(s, 12, 0,
		func(w *fieldWriter, r IndexTypeVersionToIDKey) {
			w.string(1, r.Type)
			w.int(2, int64(r.Version))
		},
		func(b []byte, _ byte) (r IndexTypeVersionToIDKey, err error) {
			err = readFields(b, func(f field) (err error) {
				switch f.num {
				case 1:
					r.Type, err = f.string()
				case 2:
					r.Version, err = f.int32()
				}
				return err
			})
			return r, err
		})
	declare(s, 13, 0,
		func(w *fieldWriter, r VersionDeletedRecord) { w.int(1, int64(r.ID)) },
		func(b []byte, _ byte) (r VersionDeletedRecord, err error) {
			err = readFields(b, func(f field) (err error) {
				if f.num == 1 {
					r.ID, err = f.int32()
				}
				return err
			})
			return r, err
		})
	declare(s, 14, 0,
		func(w *fieldWriter, r SchemaIDChunkKey) {
			w.int(1, int64(r.ID))
			w.int(2, int64(r.Chunk))
		},
		func(b []byte, _ byte) (r SchemaIDChunkKey, err error) {
			err = readFields(b, func(f field) (err error) {
				switch f.num {
				case 1:
					r.ID, err = f.int32()
				case 2:
					r.Chunk, err = f.int32()
				}
				return err
			})
			return r, err
		})

	declare(s, 15, 0,
		func(w *fieldWriter, r SchemaRecord) {
			w.message(1, func(w *fieldWriter) { writeVersionInfo(w, r.Version) })
			w.message(2, func(w *fieldWriter) { writeFormat(w, r.Format) })
			w.stringMap(3, r.Properties)
			w.int(4, int64(r.Chunks))
			w.int(5, r.Size)
			w.fixed64(6, r.Fingerprint)
		},
		func(b []byte, _ byte) (r SchemaRecord, err error) {
			err = readFields(b, func(f field) (err error) {
				switch f.num {
				case 1:
					r.Version, err = readVersionInfo(f)
				case 2:
					r.Format, err = readFormat(f)
				case 3:
					err = f.mapEntry(&r.Properties)
				case 4:
					r.Chunks, err = f.int32()
				case 5:
					r.Size, err = f.int()
				case 6:
					r.Fingerprint, err = f.fixed64()
				}
				return err
			})
			return r, err
		})
	declare(s, 16, 0,
		func(w *fieldWriter, r ValidationPolicyRecord) {
			w.int(1, int64(r.Policy.Compatibility))
			w.stringMap(2, r.Policy.Properties)
		},
		func(b []byte, _ byte) (r ValidationPolicyRecord, err error) {
			err = readFields(b, func(f field) (err error) {
				switch f.num {
				case 1:
					var c int64
					c, err = f.int()
					r.Policy.Compatibility = Compatibility(c)
				case 2:
					err = f.mapEntry(&r.Policy.Properties)
				}
				return err
			})
			return r, err
		})
	declare(s, 17, 0,
		func(w *fieldWriter, r GroupPropertiesRecord) {
			w.message(1, func(w *fieldWriter) { writeFormat(w, r.Format) })
			w.bool(2, r.AllowMultipleTypes)
			w.stringMap(3, r.Properties)
		},
		func(b []byte, _ byte) (r GroupPropertiesRecord, err error) {
			err = readFields(b, func(f field) (err error) {
				switch f.num {
				case 1:
					r.Format, err = readFormat(f)
				case 2:
					r.AllowMultipleTypes, err = f.bool()
				case 3:
					err = f.mapEntry(&r.Properties)
				}
				return err
			})
			return r, err
		})
	declare(s, 18, 0,
		func(w *fieldWriter, r SchemaIDList) {
			for _, id := range r.IDs {
				w.int(1, int64(id))
			}
		},
		func(b []byte, _ byte) (r SchemaIDList, err error) {
			err = readFields(b, func(f field) error {
				if f.num == 1 {
					id, err := f.int32()
					if err != nil {
						return err
					}
					r.IDs = append(r.IDs, id)
				}
				return nil
			})
			return r, err
		})
	declare(s, 19, 0,
		func(w *fieldWriter, r CodecTypeRecord) {
			w.message(1, func(w *fieldWriter) { writeCodecType(w, r.Codec) })
		},
		func(b []byte, _ byte) (r CodecTypeRecord, err error) {
			err = readFields(b, func(f field) (err error) {
				if f.num == 1 {
					r.Codec, err = readCodecType(f)
				}
				return err
			})
			return r, err
		})
	declare(s, 20, 0,
		func(w *fieldWriter, r CodecTypesList) {
			for _, name := range r.Names {
				w.string(1, name)
			}
		},
		func(b []byte, _ byte) (r CodecTypesList, err error) {
			err = readFields(b, func(f field) error {
				if f.num == 1 {
					name, err := f.string()
					if err != nil {
						return err
					}
					r.Names = append(r.Names, name)
				}
				return nil
			})
			return r, err
		})
	declare(s, 21, 0,
		func(w *fieldWriter, r LatestSchemasRecord) {
			w.int(1, int64(r.NextID))
			for _, typ := range sortedKeys(r.ByType) {
				v := r.ByType[typ]
				w.message(2, func(w *fieldWriter) { writeVersionInfo(w, v) })
			}
		},
		func(b []byte, _ byte) (r LatestSchemasRecord, err error) {
			err = readFields(b, func(f field) error {
				switch f.num {
				case 1:
					id, err := f.int32()
					if err != nil {
						return err
					}
					r.NextID = id
				case 2:
					v, err := readVersionInfo(f)
					if err != nil {
						return err
					}
					if r.ByType == nil {
						r.ByType = make(map[string]sr.VersionInfo)
					}
					r.ByType[v.Type] = v
				}
				return nil
			})
			return r, err
		})

	return s
}

// declareSingleton declares a key type without fields.
func declareSingleton[T Record](s *RecordSerializer, tag Tag) {
	declare(s, tag, 0,
		func(*fieldWriter, T) {},
		func(b []byte, _ byte) (r T, err error) {
			return r, readFields(b, func(field) error { return nil })
		})
}

func writeVersionInfo(w *fieldWriter, v sr.VersionInfo) {
	w.string(1, v.Type)
	w.int(2, int64(v.Version))
	w.int(3, int64(v.ID))
}

func readVersionInfo(f field) (v sr.VersionInfo, err error) {
	b, err := f.bytes()
	if err != nil {
		return v, err
	}

	err = readFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			v.Type, err = f.string()
		case 2:
			v.Version, err = f.int32()
		case 3:
			v.ID, err = f.int32()
		}
		return err
	})
	return v, err
}

func writeFormat(w *fieldWriter, format sr.SerializationFormat) {
	w.int(1, int64(format.Kind()))
	w.string(2, format.CustomTypeName())
}

func readFormat(f field) (sr.SerializationFormat, error) {
	b, err := f.bytes()
	if err != nil {
		return sr.SerializationFormat{}, err
	}

	var kind int64
	var name string
	if err := readFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			kind, err = f.int()
		case 2:
			name, err = f.string()
		}
		return err
	}); err != nil {
		return sr.SerializationFormat{}, err
	}

	return sr.FormatOf(sr.FormatKind(kind), name)
}

func writeCodecType(w *fieldWriter, codec sr.CodecType) {
	w.int(1, int64(codec.Kind()))
	w.string(2, codec.CustomTypeName())
	w.stringMap(3, codec.Properties())
}

func readCodecType(f field) (sr.CodecType, error) {
	b, err := f.bytes()
	if err != nil {
		return sr.CodecType{}, err
	}

	var kind int64
	var name string
	var props map[string]string
	if err := readFields(b, func(f field) (err error) {
		switch f.num {
		case 1:
			kind, err = f.int()
		case 2:
			name, err = f.string()
		case 3:
			err = f.mapEntry(&props)
		}
		return err
	}); err != nil {
		return sr.CodecType{}, err
	}

	return sr.CodecTypeOf(sr.CodecKind(kind), name, props)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
