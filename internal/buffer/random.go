package buffer

import (
	"crypto/rand"
	"math/big"
	fallbackrand "math/rand"

	"github.com/pseusys/betterbuf"
	"github.com/sirupsen/logrus"
)

// RandomInteger returns a cryptographically random integer in [min, max],
// inclusive on both ends. Falls back to a non-cryptographic source if the
// CSPRNG read fails: tail padding is best-effort, never a reason to drop a
// frame.
func RandomInteger(min, max int) int {
	border := uint64(max - min + 1)
	number, err := rand.Int(rand.Reader, big.NewInt(int64(max)+1))
	var random uint64
	if err != nil {
		logrus.Warnf("error reading random number, falling back to insecure source: %v", err)
		random = fallbackrand.Uint64()
	} else {
		random = number.Uint64()
	}
	return int(uint64(min) + random%border)
}

// ReliableTailLength draws a tail length uniformly from [0, maxLength].
func ReliableTailLength(maxLength uint) int {
	return RandomInteger(0, int(maxLength))
}

// EmbedReliableTailLength appends tailLength bytes of cryptographic-RNG
// padding after buffer's current window, widening it in place. If the
// buffer lacks sufficient forward capacity the tail is truncated rather
// than failing the send outright.
func EmbedReliableTailLength(buf *betterbuf.Buffer, tailLength int) *betterbuf.Buffer {
	if tailLength == 0 {
		return buf
	}
	if tailLength > buf.ForwardCap() {
		logrus.Warnf("tail length %d exceeds forward capacity %d: truncating tail", tailLength, buf.ForwardCap())
		tailLength = buf.ForwardCap()
	}

	dataLength := buf.Length()
	widened, err := buf.ExpandAfter(tailLength)
	if err != nil {
		logrus.Warnf("error expanding buffer for tail: %v, sending message without tail", err)
		return buf
	}

	tail := widened.ResliceStart(dataLength)
	if _, err := rand.Read(tail); err != nil {
		logrus.Warnf("error reading tail: %v, sending message without tail", err)
		return buf
	}
	return widened
}

// EmbedReliableTail draws a tail length per ReliableTailLength and embeds it.
func EmbedReliableTail(buf *betterbuf.Buffer, maxLength uint) *betterbuf.Buffer {
	return EmbedReliableTailLength(buf, ReliableTailLength(maxLength))
}
