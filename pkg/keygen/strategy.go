package keygen

import (
	"encoding/binary"
	"math/bits"
	"math/rand/v2"

	"github.com/cloudflare/circl/xof"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/crypto"
)

// bitDrawer returns n random bits, each 0 or 1.
type bitDrawer func(n int) ([]uint8, error)

// shuffleMaximum is Fisher-Yates with every index drawn from fresh source
// bits. For i = size-1 down to 1 it draws ceil(log2(i+1)) bits as j, MSB
// first, redraws while j > i, and swaps positions i and j.
//
// It returns the permutation and the total number of redraws.
func shuffleMaximum(size int, draw bitDrawer) (Permutation, uint64, error) {
	p := Identity(size)
	var redraws uint64

	for i := size - 1; i >= 1; i-- {
		width := bits.Len(uint(i))
		j := -1
		for attempt := 0; attempt < constants.MaxRejectionAttempts; attempt++ {
			b, err := draw(width)
			if err != nil {
				return nil, redraws, err
			}
			if v := bitsToInt(b); v <= i {
				j = v
				break
			}
			redraws++
		}
		if j < 0 {
			return nil, redraws, qerrors.NewCryptoError("shuffleMaximum",
				qerrors.ErrRandomnessUnavailable)
		}
		p[i], p[j] = p[j], p[i]
	}
	return p, redraws, nil
}

func bitsToInt(b []uint8) int {
	v := 0
	for _, bit := range b {
		v = v<<1 | int(bit&1)
	}
	return v
}

// shuffleSeeded shuffles [0, size) with a SHAKE-256 stream keyed by seed.
// The seed bytes are the big-endian encoding of the seed integer.
func shuffleSeeded(size int, seed []byte) Permutation {
	p := Identity(size)
	rng := rand.New(&xofSource{stream: crypto.NewStream(constants.DomainSeparatorShuffle, seed)})
	rng.Shuffle(size, func(i, j int) {
		p[i], p[j] = p[j], p[i]
	})
	return p
}

// xofSource adapts an extendable-output function to rand.Source.
type xofSource struct {
	stream xof.XOF
	buf    [8]byte
}

func (s *xofSource) Uint64() uint64 {
	_, _ = s.stream.Read(s.buf[:])
	return binary.BigEndian.Uint64(s.buf[:])
}

// bufferedDrawer serves small bit requests from larger source batches so
// the maximum strategy does not pay one source call per index.
type bufferedDrawer struct {
	fetch bitDrawer
	batch int
	buf   []uint8
}

func newBufferedDrawer(fetch bitDrawer, batch int) *bufferedDrawer {
	return &bufferedDrawer{fetch: fetch, batch: batch}
}

func (d *bufferedDrawer) draw(n int) ([]uint8, error) {
	if len(d.buf) < n {
		more, err := d.fetch(max(d.batch, n-len(d.buf)))
		if err != nil {
			return nil, err
		}
		d.buf = append(d.buf, more...)
	}
	out := d.buf[:n:n]
	d.buf = d.buf[n:]
	return out, nil
}
