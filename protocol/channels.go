package protocol

import "movesync/transport"

// 通道编号
const (
	ChannelClient    uint8 = 0
	ChannelServer    uint8 = 1
	ChannelGameState uint8 = 2
)

// Channels 返回三类消息的通道注册参数：全部不可靠投递，缓冲深度 8
func Channels() []transport.ChannelSettings {
	return []transport.ChannelSettings{
		{Channel: ChannelClient, Mode: transport.Unreliable, MessageBufferSize: 8, PacketBufferSize: 8},
		{Channel: ChannelServer, Mode: transport.Unreliable, MessageBufferSize: 8, PacketBufferSize: 8},
		{Channel: ChannelGameState, Mode: transport.Unreliable, MessageBufferSize: 8, PacketBufferSize: 8},
	}
}
