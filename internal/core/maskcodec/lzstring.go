package maskcodec

import (
	"errors"
	"strings"
	"unicode/utf16"
)

// uriSafeAlphabet is the 6-bit alphabet of lz-string's "encoded URI component" form.
const uriSafeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+-$"

var uriSafeIndex = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(uriSafeAlphabet); i++ {
		idx[uriSafeAlphabet[i]] = int8(i)
	}
	return idx
}()

var (
	errLZInvalidChar = errors.New("lzstring: character outside uri-safe alphabet")
	errLZTruncated   = errors.New("lzstring: stream ended before terminator")
	errLZBadCode     = errors.New("lzstring: dictionary code out of range")
)

// DecompressFromEncodedURIComponent reverses lz-string's compressToEncodedURIComponent.
// Output is the decompressed UTF-16 stream converted to a Go string.
func DecompressFromEncodedURIComponent(input string) (string, error) {
	if input == "" {
		return "", errLZTruncated
	}
	input = strings.ReplaceAll(input, " ", "+")
	for i := 0; i < len(input); i++ {
		if uriSafeIndex[input[i]] < 0 {
			return "", errLZInvalidChar
		}
	}
	r := &bitReader{input: input, reset: 32}
	r.val = r.charAt(0)
	r.pos = r.reset
	r.index = 1

	units, err := lzDecompress(r)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

type bitReader struct {
	input string
	reset int
	val   int
	pos   int
	index int
}

func (r *bitReader) charAt(i int) int {
	if i >= len(r.input) {
		return 0
	}
	return int(uriSafeIndex[r.input[i]])
}

// read assembles n bits least-significant first, consuming characters most-significant bit first.
func (r *bitReader) read(n int) int {
	bits := 0
	for power := 0; power < n; power++ {
		resb := r.val & r.pos
		r.pos >>= 1
		if r.pos == 0 {
			r.pos = r.reset
			r.val = r.charAt(r.index)
			r.index++
		}
		if resb > 0 {
			bits |= 1 << power
		}
	}
	return bits
}

func lzDecompress(r *bitReader) ([]uint16, error) {
	dictionary := make([][]uint16, 3, 64)
	enlargeIn := 4
	numBits := 3

	var first []uint16
	switch r.read(2) {
	case 0:
		first = []uint16{uint16(r.read(8))}
	case 1:
		first = []uint16{uint16(r.read(16))}
	case 2:
		return nil, nil
	default:
		return nil, errLZBadCode
	}
	dictionary = append(dictionary, first)
	w := first
	result := append([]uint16(nil), first...)

	for {
		if r.index > len(r.input) {
			return nil, errLZTruncated
		}

		c := r.read(numBits)
		switch c {
		case 0:
			dictionary = append(dictionary, []uint16{uint16(r.read(8))})
			c = len(dictionary) - 1
			enlargeIn--
		case 1:
			dictionary = append(dictionary, []uint16{uint16(r.read(16))})
			c = len(dictionary) - 1
			enlargeIn--
		case 2:
			return result, nil
		}

		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}

		var entry []uint16
		switch {
		case c < len(dictionary) && c > 2:
			entry = dictionary[c]
		case c == len(dictionary):
			entry = append(append([]uint16(nil), w...), w[0])
		default:
			return nil, errLZBadCode
		}
		result = append(result, entry...)

		next := make([]uint16, 0, len(w)+1)
		next = append(append(next, w...), entry[0])
		dictionary = append(dictionary, next)
		enlargeIn--
		w = entry

		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}
	}
}

// CompressToEncodedURIComponent is the producer-side inverse, used by tests and fixtures.
func CompressToEncodedURIComponent(input string) string {
	units := utf16.Encode([]rune(input))
	w := &bitWriter{bitsPerChar: 6}

	dictionary := make(map[string]int)
	toCreate := make(map[string]bool)
	enlargeIn := 2
	dictSize := 3
	numBits := 2

	var cur []uint16
	emit := func(seq []uint16) {
		key := unitsKey(seq)
		if toCreate[key] {
			if seq[0] < 256 {
				w.writeValue(0, numBits)
				w.writeValue(int(seq[0]), 8)
			} else {
				w.writeValue(1, numBits)
				w.writeValue(int(seq[0]), 16)
			}
			enlargeIn--
			if enlargeIn == 0 {
				enlargeIn = 1 << numBits
				numBits++
			}
			delete(toCreate, key)
		} else {
			w.writeValue(dictionary[key], numBits)
		}
		enlargeIn--
		if enlargeIn == 0 {
			enlargeIn = 1 << numBits
			numBits++
		}
	}

	for _, u := range units {
		c := []uint16{u}
		ck := unitsKey(c)
		if _, ok := dictionary[ck]; !ok {
			dictionary[ck] = dictSize
			dictSize++
			toCreate[ck] = true
		}
		wc := append(append([]uint16(nil), cur...), u)
		if _, ok := dictionary[unitsKey(wc)]; ok {
			cur = wc
			continue
		}
		emit(cur)
		dictionary[unitsKey(wc)] = dictSize
		dictSize++
		cur = c
	}
	if len(cur) > 0 {
		emit(cur)
	}

	w.writeValue(2, numBits)
	w.flush()
	return w.out.String()
}

type bitWriter struct {
	bitsPerChar int
	val         int
	pos         int
	out         strings.Builder
}

func (w *bitWriter) writeBit(b int) {
	w.val = (w.val << 1) | b
	if w.pos == w.bitsPerChar-1 {
		w.pos = 0
		w.out.WriteByte(uriSafeAlphabet[w.val])
		w.val = 0
		return
	}
	w.pos++
}

func (w *bitWriter) writeValue(value, n int) {
	for i := 0; i < n; i++ {
		w.writeBit(value & 1)
		value >>= 1
	}
}

func (w *bitWriter) flush() {
	for {
		w.val <<= 1
		if w.pos == w.bitsPerChar-1 {
			w.out.WriteByte(uriSafeAlphabet[w.val])
			return
		}
		w.pos++
	}
}

func unitsKey(units []uint16) string {
	b := make([]byte, 0, len(units)*2)
	for _, u := range units {
		b = append(b, byte(u>>8), byte(u))
	}
	return string(b)
}
