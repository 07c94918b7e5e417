package keystore

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	bin "github.com/saylorsolutions/binmap"
	"github.com/ulikunitz/xz/lzma"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
)

// Serialized form:
//
//	"QSKB" || LZMA(record)
//
// record is a protobuf-wire message. Fields may appear in any order and
// unknown fields are skipped, so readers tolerate additions.
//
//	 1 keystream      bytes
//	 2 permutation    packed varint
//	 3 shape          message {1 height, 2 width, 3 channels}
//	 4 channel_mode   string
//	 5 purity         string
//	 6 version        string
//	 7 salt           bytes
//	 8 hmac_key       bytes
//	 9 integrity_tag  bytes
//	10 encrypted      bool
//	11 content_hash   bytes
//	12 kdf            bytes: iterations uint64 || key length uint8, big-endian
const (
	fieldKeystream    protowire.Number = 1
	fieldPermutation  protowire.Number = 2
	fieldShape        protowire.Number = 3
	fieldChannelMode  protowire.Number = 4
	fieldPurity       protowire.Number = 5
	fieldVersion      protowire.Number = 6
	fieldSalt         protowire.Number = 7
	fieldHMACKey      protowire.Number = 8
	fieldIntegrityTag protowire.Number = 9
	fieldEncrypted    protowire.Number = 10
	fieldContentHash  protowire.Number = 11
	fieldKDF          protowire.Number = 12
)

const (
	shapeHeight   protowire.Number = 1
	shapeWidth    protowire.Number = 2
	shapeChannels protowire.Number = 3
)

func (k *KDFParams) mapper() bin.Mapper {
	return bin.MapSequence(
		bin.Int(&k.Iterations),
		bin.Byte(&k.KeyLen),
	)
}

// Marshal encodes b in the compressed blob format.
func Marshal(b *Blob) ([]byte, error) {
	if b == nil {
		return nil, qerrors.Invalid("keystore.Marshal", "nil blob")
	}
	record, err := encodeRecord(b)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(constants.BlobMagic)
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, qerrors.NewCryptoError("keystore.Marshal", err)
	}
	if _, err := w.Write(record); err != nil {
		return nil, qerrors.NewCryptoError("keystore.Marshal", err)
	}
	if err := w.Close(); err != nil {
		return nil, qerrors.NewCryptoError("keystore.Marshal", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a blob produced by Marshal. Decoding does not verify
// the integrity tag; call Verify or Unwrap on the result.
func Unmarshal(data []byte) (*Blob, error) {
	const op = "keystore.Unmarshal"

	if len(data) > constants.MaxBlobSize {
		return nil, qerrors.Malformed(op, "blob of %d bytes exceeds limit", len(data))
	}
	if !bytes.HasPrefix(data, []byte(constants.BlobMagic)) {
		return nil, qerrors.Malformed(op, "missing %s header", constants.BlobMagic)
	}

	r, err := lzma.NewReader(bytes.NewReader(data[len(constants.BlobMagic):]))
	if err != nil {
		return nil, qerrors.Malformed(op, "compression header: %v", err)
	}
	record, err := io.ReadAll(io.LimitReader(r, constants.MaxBlobSize+1))
	if err != nil {
		return nil, qerrors.Malformed(op, "decompress: %v", err)
	}
	if len(record) > constants.MaxBlobSize {
		return nil, qerrors.Malformed(op, "decompressed record exceeds limit")
	}
	return decodeRecord(record)
}

func encodeRecord(b *Blob) ([]byte, error) {
	out := make([]byte, 0, len(b.Keystream)+len(b.Permutation)*4+256)

	out = appendBytes(out, fieldKeystream, b.Keystream)

	if len(b.Permutation) > 0 {
		var packed []byte
		for _, v := range b.Permutation {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		out = appendBytes(out, fieldPermutation, packed)
	}

	var shape []byte
	shape = appendVarint(shape, shapeHeight, uint64(b.Shape.Height))
	shape = appendVarint(shape, shapeWidth, uint64(b.Shape.Width))
	shape = appendVarint(shape, shapeChannels, uint64(b.Shape.Channels))
	out = appendBytes(out, fieldShape, shape)

	out = appendString(out, fieldChannelMode, string(b.Mode))
	out = appendString(out, fieldPurity, b.Purity)
	out = appendString(out, fieldVersion, b.Version)
	out = appendBytes(out, fieldSalt, b.Salt)
	out = appendBytes(out, fieldHMACKey, b.HMACKey)
	out = appendBytes(out, fieldIntegrityTag, b.IntegrityTag)
	if b.Encrypted {
		out = appendVarint(out, fieldEncrypted, 1)
	}
	out = appendBytes(out, fieldContentHash, b.ContentHash)

	if b.KDF != (KDFParams{}) {
		var kdf bytes.Buffer
		params := b.KDF
		if err := params.mapper().Write(&kdf, binary.BigEndian); err != nil {
			return nil, qerrors.NewCryptoError("keystore.Marshal", err)
		}
		out = appendBytes(out, fieldKDF, kdf.Bytes())
	}
	return out, nil
}

func appendBytes(out []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return out
	}
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendBytes(out, v)
}

func appendString(out []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return out
	}
	out = protowire.AppendTag(out, num, protowire.BytesType)
	return protowire.AppendString(out, v)
}

func appendVarint(out []byte, num protowire.Number, v uint64) []byte {
	out = protowire.AppendTag(out, num, protowire.VarintType)
	return protowire.AppendVarint(out, v)
}

func decodeRecord(data []byte) (*Blob, error) {
	const op = "keystore.Unmarshal"
	b := &Blob{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, qerrors.Malformed(op, "field tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldPermutation && typ == protowire.VarintType:
			// Unpacked encoding of a repeated field.
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, qerrors.Malformed(op, "permutation: %v", protowire.ParseError(m))
			}
			if v > math.MaxUint32 {
				return nil, qerrors.Malformed(op, "permutation index %d out of range", v)
			}
			b.Permutation = append(b.Permutation, uint32(v))
			data = data[m:]
			continue

		case num == fieldEncrypted && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, qerrors.Malformed(op, "encrypted: %v", protowire.ParseError(m))
			}
			b.Encrypted = v != 0
			data = data[m:]
			continue

		case typ != protowire.BytesType || num > fieldKDF:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, qerrors.Malformed(op, "field %d: %v", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}

		v, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, qerrors.Malformed(op, "field %d: %v", num, protowire.ParseError(m))
		}
		data = data[m:]

		var err error
		switch num {
		case fieldKeystream:
			b.Keystream = append([]byte(nil), v...)
		case fieldPermutation:
			b.Permutation, err = decodePacked(b.Permutation, v)
		case fieldShape:
			b.Shape, err = decodeShape(v)
		case fieldChannelMode:
			b.Mode = pixel.Mode(v)
		case fieldPurity:
			b.Purity = string(v)
		case fieldVersion:
			b.Version = string(v)
		case fieldSalt:
			b.Salt = append([]byte(nil), v...)
		case fieldHMACKey:
			b.HMACKey = append([]byte(nil), v...)
		case fieldIntegrityTag:
			b.IntegrityTag = append([]byte(nil), v...)
		case fieldContentHash:
			b.ContentHash = append([]byte(nil), v...)
		case fieldKDF:
			if rerr := b.KDF.mapper().Read(bytes.NewReader(v), binary.BigEndian); rerr != nil {
				err = qerrors.Malformed(op, "kdf parameters: %v", rerr)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func decodePacked(dst keygen.Permutation, v []byte) (keygen.Permutation, error) {
	for len(v) > 0 {
		x, n := protowire.ConsumeVarint(v)
		if n < 0 {
			return nil, qerrors.Malformed("keystore.Unmarshal", "permutation: %v", protowire.ParseError(n))
		}
		if x > math.MaxUint32 {
			return nil, qerrors.Malformed("keystore.Unmarshal", "permutation index %d out of range", x)
		}
		dst = append(dst, uint32(x))
		v = v[n:]
	}
	return dst, nil
}

func decodeShape(data []byte) (pixel.Shape, error) {
	var s pixel.Shape
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, qerrors.Malformed("keystore.Unmarshal", "shape: %v", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.VarintType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return s, qerrors.Malformed("keystore.Unmarshal", "shape: %v", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		v, m := protowire.ConsumeVarint(data)
		if m < 0 {
			return s, qerrors.Malformed("keystore.Unmarshal", "shape: %v", protowire.ParseError(m))
		}
		data = data[m:]
		if v > math.MaxInt32 {
			return s, qerrors.Malformed("keystore.Unmarshal", "shape dimension %d out of range", v)
		}
		switch num {
		case shapeHeight:
			s.Height = int(v)
		case shapeWidth:
			s.Width = int(v)
		case shapeChannels:
			s.Channels = int(v)
		}
	}
	return s, nil
}
