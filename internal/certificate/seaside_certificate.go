// Hand-written in the style of flatc-generated Go accessors.
//
// Schema (kept here for reference — the real .fbs lives alongside the
// Caerulean control plane that emits these certificates):
//
//	table SeasideCertificate {
//	  address:string;
//	  port_port:uint16;
//	  typhoon_port:uint16;
//	  dns:string;
//	  public_key:[ubyte];
//	  token:[ubyte];
//	}
//	root_type SeasideCertificate;

package certificate

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// SeasideCertificate is the flatbuffers table view of a session certificate
// as issued by a Caerulean control plane.
type SeasideCertificate struct {
	_tab flatbuffers.Table
}

// GetRootAsSeasideCertificate returns a SeasideCertificate view over buf,
// assuming buf was produced by SeasideCertificate's own Finish call (i.e.
// not size-prefixed).
func GetRootAsSeasideCertificate(buf []byte, offset flatbuffers.UOffsetT) *SeasideCertificate {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &SeasideCertificate{}
	x.Init(buf, n+offset)
	return x
}

// GetSizePrefixedRootAsSeasideCertificate is GetRootAsSeasideCertificate for
// a buffer produced with FinishSizePrefixed.
func GetSizePrefixedRootAsSeasideCertificate(buf []byte, offset flatbuffers.UOffsetT) *SeasideCertificate {
	n := flatbuffers.GetUOffsetT(buf[offset+flatbuffers.SizeUint32:])
	x := &SeasideCertificate{}
	x.Init(buf, n+offset+flatbuffers.SizeUint32)
	return x
}

func (rcv *SeasideCertificate) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *SeasideCertificate) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *SeasideCertificate) Address() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *SeasideCertificate) PortPort() uint16 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.GetUint16(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *SeasideCertificate) MutatePortPort(n uint16) bool {
	return rcv._tab.MutateUint16Slot(6, n)
}

func (rcv *SeasideCertificate) TyphoonPort() uint16 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetUint16(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *SeasideCertificate) MutateTyphoonPort(n uint16) bool {
	return rcv._tab.MutateUint16Slot(8, n)
}

func (rcv *SeasideCertificate) Dns() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *SeasideCertificate) PublicKey(j int) byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetByte(a + flatbuffers.UOffsetT(j*1))
	}
	return 0
}

func (rcv *SeasideCertificate) PublicKeyLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *SeasideCertificate) PublicKeyBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *SeasideCertificate) Token(j int) byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetByte(a + flatbuffers.UOffsetT(j*1))
	}
	return 0
}

func (rcv *SeasideCertificate) TokenLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *SeasideCertificate) TokenBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func SeasideCertificateStart(builder *flatbuffers.Builder) {
	builder.StartObject(6)
}

func SeasideCertificateAddAddress(builder *flatbuffers.Builder, address flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(address), 0)
}

func SeasideCertificateAddPortPort(builder *flatbuffers.Builder, portPort uint16) {
	builder.PrependUint16Slot(1, portPort, 0)
}

func SeasideCertificateAddTyphoonPort(builder *flatbuffers.Builder, typhoonPort uint16) {
	builder.PrependUint16Slot(2, typhoonPort, 0)
}

func SeasideCertificateAddDns(builder *flatbuffers.Builder, dns flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, flatbuffers.UOffsetT(dns), 0)
}

func SeasideCertificateAddPublicKey(builder *flatbuffers.Builder, publicKey flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(4, flatbuffers.UOffsetT(publicKey), 0)
}

func SeasideCertificateStartPublicKeyVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(1, numElems, 1)
}

func SeasideCertificateAddToken(builder *flatbuffers.Builder, token flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(5, flatbuffers.UOffsetT(token), 0)
}

func SeasideCertificateStartTokenVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(1, numElems, 1)
}

func SeasideCertificateEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
