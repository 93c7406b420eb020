package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
)

// ByteArray is a byte slice carried in JSON as an array of numbers instead of
// base64.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i := range b {
		ints[i] = int(b[i])
	}

	return json.Marshal(ints)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = nil
		return nil
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("failed to decode byte array: %w", err)
	}

	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte array element %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out

	return nil
}

// Quantity is a chain quantity the tally server sends either as a JSON
// number or as a decimal / 0x-hex string.
type Quantity struct {
	*big.Int
}

func NewQuantity(i int64) Quantity {
	return Quantity{Int: big.NewInt(i)}
}

func (q Quantity) BigInt() *big.Int {
	if q.Int == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(q.Int)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.BigInt().String())
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		q.Int = nil
		return nil
	}

	s = strings.Trim(s, `"`)

	i, ok := math.ParseBig256(s)
	if !ok {
		return fmt.Errorf("invalid quantity: %q", s)
	}
	q.Int = i

	return nil
}

// Count is a small integer the server sends as a string, e.g. num_options.
type Count int

func (c Count) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(c)))
}

func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}

	i, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid count %q: %w", s, err)
	}
	*c = Count(i)

	return nil
}
