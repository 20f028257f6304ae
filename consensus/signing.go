package consensus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

// MsgKind distinguishes the messages a member signs. It doubles as the
// signer watermark kind, so a member can sign at most one message of each
// kind per view.
type MsgKind uint8

const (
	ProposalMsg MsgKind = iota + 1
	VoteMsg
	TimeoutMsg
)

const (
	// MaxNamespaceSize indicates the maximum length in bytes of the
	// namespace. A namespace can be empty thus 0 is accepted.
	MaxNamespaceSize = math.MaxUint8
)

var ErrInvalidSignedMsgLength = errors.New("invalid signed message length")

// EncodeMsgToSign encodes the information a member signs over.
//
// The format is:
// 1 byte message kind (also used for versioning)
// 8 bytes view
// 32 bytes digest (leaf hash, or the timeout digest for timeout votes)
// up to 255 bytes length prefixed namespace (single byte length)
//
// Namespace can be left empty.
func EncodeMsgToSign(kind MsgKind, view uint64, digest Hash, namespace []byte) []byte {
	if len(namespace) > MaxNamespaceSize {
		panic("namespace can not be longer than 255 bytes")
	}
	buf := bytes.NewBuffer(make([]byte, 0, 1+8+32+1+len(namespace)))
	buf.WriteByte(byte(kind))
	viewBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(viewBytes, view)
	buf.Write(viewBytes)
	buf.Write(digest[:])
	buf.WriteByte(byte(len(namespace)))
	if len(namespace) > 0 {
		buf.Write(namespace)
	}
	return buf.Bytes()
}

// DecodeSignedMsg reverses the encoding scheme.
func DecodeSignedMsg(msg []byte) (kind MsgKind, view uint64, digest Hash, namespace []byte, err error) {
	if len(msg) < 1+8+32+1 {
		return 0, 0, ZeroHash, nil, ErrInvalidSignedMsgLength
	}
	kind = MsgKind(msg[0])
	view = binary.BigEndian.Uint64(msg[1:9])
	copy(digest[:], msg[9:41])
	namespaceLength := int(msg[41])
	if len(msg) < 42+namespaceLength {
		return 0, 0, ZeroHash, nil, ErrInvalidSignedMsgLength
	}
	namespace = msg[42 : 42+namespaceLength]
	return kind, view, digest, namespace, nil
}

// timeoutDigest commits a timeout vote to the highest QC view it declares.
func timeoutDigest(highQCView uint64) Hash {
	var digest Hash
	binary.BigEndian.PutUint64(digest[:8], highQCView)
	return digest
}

// VoteSignBytes returns the canonical bytes a member signs to endorse a
// leaf in a view.
func VoteSignBytes(view uint64, leaf Hash, namespace []byte) []byte {
	return EncodeMsgToSign(VoteMsg, view, leaf, namespace)
}

// TimeoutSignBytes returns the canonical bytes a member signs to declare a
// view timed out.
func TimeoutSignBytes(view, highQCView uint64, namespace []byte) []byte {
	return EncodeMsgToSign(TimeoutMsg, view, timeoutDigest(highQCView), namespace)
}

// ProposalSignBytes returns the canonical bytes the leader signs over its
// proposed leaf.
func ProposalSignBytes(view uint64, leaf Hash, namespace []byte) []byte {
	return EncodeMsgToSign(ProposalMsg, view, leaf, namespace)
}
