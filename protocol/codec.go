package protocol

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	flagPlain byte = 0x00
	flagLZ4   byte = 0x01
)

const (
	// CompressThreshold 超过该长度的消息体使用 lz4 压缩
	CompressThreshold = 512
	// MaxPayloadSize 解压后允许的最大消息体
	MaxPayloadSize = 1 << 20
)

// Encode 将消息编码为 [flag][body]，返回其所属通道
func Encode(m Message) (uint8, []byte, error) {
	body, err := msgpack.Marshal(m)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "marshal %T failed", m)
	}
	if len(body) <= CompressThreshold {
		return m.Channel(), append([]byte{flagPlain}, body...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(flagLZ4)
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return 0, nil, errors.Wrap(err, "lz4 write failed")
	}
	if err := zw.Close(); err != nil {
		return 0, nil, errors.Wrap(err, "lz4 close failed")
	}
	return m.Channel(), buf.Bytes(), nil
}

// body 去掉标志位，必要时解压
func body(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.Wrap(ErrMalformed, "empty payload")
	}
	switch payload[0] {
	case flagPlain:
		if len(payload)-1 > MaxPayloadSize {
			return nil, ErrTooLarge
		}
		return payload[1:], nil
	case flagLZ4:
		zr := lz4.NewReader(bytes.NewReader(payload[1:]))
		out, err := io.ReadAll(io.LimitReader(zr, MaxPayloadSize+1))
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		if len(out) > MaxPayloadSize {
			return nil, ErrTooLarge
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown flag 0x%02x", payload[0])
	}
}

func unmarshal(payload []byte, v any) error {
	b, err := body(payload)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	return nil
}

// DecodeClientMessage 解码通道 0 的消息
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := unmarshal(payload, &m); err != nil {
		return ClientMessage{}, err
	}
	if m.Kind != KindJoin && m.Kind != KindDirection {
		return ClientMessage{}, errors.Wrapf(ErrUnknownKind, "client message kind %d", m.Kind)
	}
	return m, nil
}

// DecodeServerMessage 解码通道 1 的消息
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	var m ServerMessage
	if err := unmarshal(payload, &m); err != nil {
		return ServerMessage{}, err
	}
	if m.Kind != KindJoined {
		return ServerMessage{}, errors.Wrapf(ErrUnknownKind, "server message kind %d", m.Kind)
	}
	return m, nil
}

// DecodeGameState 解码通道 2 的快照
func DecodeGameState(payload []byte) (GameState, error) {
	var m GameState
	if err := unmarshal(payload, &m); err != nil {
		return GameState{}, err
	}
	return m, nil
}

// Decode 按通道解码任意消息
func Decode(channel uint8, payload []byte) (Message, error) {
	switch channel {
	case ChannelClient:
		return DecodeClientMessage(payload)
	case ChannelServer:
		return DecodeServerMessage(payload)
	case ChannelGameState:
		return DecodeGameState(payload)
	default:
		return nil, errors.Wrapf(ErrUnknownChannel, "channel %d", channel)
	}
}
