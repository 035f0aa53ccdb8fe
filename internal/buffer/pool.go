// Package buffer provides the client's process-global packet-buffer pool
// and the random tail-padding helpers shared by both protocol clients, built
// on top of github.com/pseusys/betterbuf — the same zero-copy buffer the
// Caerulean server uses for every protocol frame.
package buffer

import (
	"math"

	"github.com/pseusys/betterbuf"

	"github.com/pseusys/seaside-viridian/internal/crypto"
)

// HeaderOverhead is the maximum total framing overhead reserved as headroom
// in every packet buffer.
const HeaderOverhead = 64

// MaxBody is the largest IP payload a single frame can carry once framing
// and asymmetric envelope overhead are reserved.
const MaxBody = math.MaxUint16 - HeaderOverhead - 2*crypto.AsymmetricCiphertextOverhead

// PacketPool is the process-wide freelist of packet buffers: each region
// reserves HeaderOverhead+asymmetric envelope overhead bytes of backward
// capacity for prepended headers and up to 65535 bytes of forward capacity
// for the payload plus its trailing tail padding. The freelist starts with
// five regions and grows without bound under load.
var PacketPool = betterbuf.CreateBufferPool(HeaderOverhead+crypto.AsymmetricCiphertextOverhead, math.MaxUint16+crypto.AsymmetricCiphertextOverhead, 5)
