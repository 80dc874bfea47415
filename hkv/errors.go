package hkv

import (
	"errors"

	"github.com/IvanBrykalov/hkvtable/keys"
	"github.com/IvanBrykalov/hkvtable/pool"
)

var (
	// ErrUnsupportedKeyType is returned by New for an unknown key kind or a
	// kind that does not match the table's key type.
	ErrUnsupportedKeyType = keys.ErrUnsupportedKeyType
	// ErrPoolExhausted is returned by create paths when the pool is full and
	// eviction could not free a slot.
	ErrPoolExhausted = pool.ErrExhausted
	// ErrClosed is returned by create paths after Close.
	ErrClosed = errors.New("hkv: table closed")
	// ErrInvalidOptions is returned by New for out-of-range options.
	ErrInvalidOptions = errors.New("hkv: invalid options")
)
