// Package crc provides table driven CRC engines used by the CRSF link.
package crc

import (
	"fmt"

	"github.com/sigurn/crc8"
)

// Engine is a table driven, non-reflected CRC of 8 to 16 bits width.
type Engine struct {
	table [256]uint16
	bits  uint
	mask  uint16
	poly  uint16
}

// New creates an Engine of the given width (8..16) and generator polynomial.
// The polynomial excludes the implicit top bit.
func New(bits uint, poly uint16) *Engine {
	if bits < 8 || bits > 16 {
		panic(fmt.Sprintf("crc: unsupported width %d", bits))
	}
	e := &Engine{bits: bits, poly: poly}
	e.mask = uint16((uint32(1) << bits) - 1)
	top := uint16(1) << (bits - 1)
	for i := range e.table {
		crc := uint16(i) << (bits - 8)
		for n := 0; n < 8; n++ {
			if crc&top != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		e.table[i] = crc & e.mask
	}
	return e
}

// Bits returns the width of the CRC.
func (e *Engine) Bits() uint {
	return e.bits
}

// Poly returns the generator polynomial.
func (e *Engine) Poly() uint16 {
	return e.poly
}

// Calc folds data into seed.
func (e *Engine) Calc(data []byte, seed uint16) uint16 {
	crc := seed & e.mask
	shift := e.bits - 8
	for _, b := range data {
		crc = ((crc << 8) ^ e.table[byte(crc>>shift)^b]) & e.mask
	}
	return crc
}

// CalcByte is the single byte form of Calc with a zero seed.
func (e *Engine) CalcByte(b byte) uint16 {
	return e.table[b]
}

// CRC8 is the 8-bit fast path used for CRSF frame trailers.
type CRC8 struct {
	table *crc8.Table
	poly  uint8
}

// Polynomials used on the link.
const (
	// PolyDVBS2 protects CRSF frames (type through payload).
	PolyDVBS2 uint8 = 0xd5
	// PolyCommand protects the body of CRSF command frames.
	PolyCommand uint8 = 0xba
)

// NewCRC8 creates an 8-bit CRC with the polynomial.
func NewCRC8(poly uint8) *CRC8 {
	return &CRC8{
		table: crc8.MakeTable(crc8.Params{
			Poly: poly,
			Name: fmt.Sprintf("CRC-8/0x%02X", poly),
		}),
		poly: poly,
	}
}

// Poly returns the generator polynomial.
func (c *CRC8) Poly() uint8 {
	return c.poly
}

// Calc folds data into seed.
func (c *CRC8) Calc(data []byte, seed uint8) uint8 {
	return crc8.Update(seed, data, c.table)
}

// CalcByte computes the CRC of a single byte with a zero seed.
func (c *CRC8) CalcByte(b byte) uint8 {
	return crc8.Update(0, []byte{b}, c.table)
}
