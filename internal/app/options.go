package app

import (
	"ftx/internal/config"
	"ftx/internal/receiver"
	"ftx/internal/server"
	"ftx/internal/transport"
	"ftx/internal/webrtc"
)

func tcpOptions(cfg *config.Config) transport.TCPOptions {
	return transport.TCPOptions{
		NoDelay:     cfg.Network.NoDelay,
		ReadBuffer:  cfg.Network.ReadBufferSize,
		WriteBuffer: cfg.Network.WriteBufferSize,
	}
}

func streamOptions(cfg *config.Config) transport.Options {
	return transport.Options{
		SendTimeout:    cfg.Network.SendTimeout,
		ReceiveTimeout: cfg.Network.ReceiveTimeout,
		SegmentSize:    cfg.Network.SegmentSize,
	}
}

func channelOptions(cfg *config.Config) webrtc.StreamOptions {
	return webrtc.StreamOptions{
		PacketSize:                 cfg.WebRTC.PacketSize,
		MaxBufferedAmount:          cfg.WebRTC.MaxBufferedAmount,
		BufferedAmountLowThreshold: cfg.WebRTC.BufferedAmountLowThreshold,
		FlowControlTimeout:         cfg.Network.SendTimeout,
	}
}

func receiverOptions(cfg *config.Config, root string) receiver.Options {
	return receiver.Options{
		Root:             root,
		TempSuffix:       cfg.Transfer.TempSuffix,
		MaxFileSizeBytes: cfg.Transfer.MaxFileSize,
		MaxChunkSize:     cfg.Transfer.MaxChunkSize,
		SeedBufferSize:   cfg.Transfer.SeedBufferSize,
	}
}

func serverOptions(cfg *config.Config, listen string, maxClients int) server.Options {
	return server.Options{
		ListenAddr:   listen,
		MaxClients:   maxClients,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		QueueDepth:   cfg.Server.QueueDepth,
		TCP:          tcpOptions(cfg),
	}
}
