package pipeline

import (
	"codeberg.org/mutker/eegstreamd/internal/wire"
)

func (p *Pipeline) onControl(c *wire.Control) {
	ctx := p.ctx

	switch c.Type {
	case wire.TypePing:
		p.sender.SendStatus(ctx, "pong", "Server is alive")
	case wire.TypeGetStatus:
		p.sendStatus(ctx, p.Status())
	case wire.TypeRequestData:
		rows := p.raw.AllChannels(RequestDataSamples)
		if len(rows) == 0 {
			p.log.Debug().Msg("Data requested before any samples arrived")
			return
		}
		p.sender.SendEEG(ctx, rows, nil, &wire.Metadata{Note: "requested_data"})
	case wire.TypeConnectionTest:
		p.log.Debug().Msg("Connection test from client")
	default:
		p.log.Debug().Str("type", string(c.Type)).Msg("Ignoring unknown control message")
	}
}

func (p *Pipeline) onStatus(s *wire.Status) {
	p.log.Debug().
		Str("status", s.Status).
		Str("message", s.Message).
		Msg("Client status")
}

func (p *Pipeline) onData(m wire.Message) {
	p.log.Debug().Str("type", string(m.MessageType())).Msg("Ignoring data message from client")
}
