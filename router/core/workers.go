package core

import (
	"errors"

	"github.com/dreamworksanimation/arras4-node/router/envelope"
	"github.com/dreamworksanimation/arras4-node/router/peer"
	"github.com/dreamworksanimation/arras4-node/router/transport"
)

// spawnPeerWorkers launches the one send thread and one recv thread per
// peer described in spec 4.E.
func (r *Router) spawnPeerWorkers(p *peer.Peer) {
	go r.sendWorker(p)
	go r.recvWorker(p)
}

func (r *Router) sendWorker(p *peer.Peer) {
	for {
		env, ok := p.SendQueue().Pop()
		if !ok {
			return // queue closed: peer has been destroyed
		}
		frame := encodeFrame(env)
		if err := p.Connection().Send(frame); err != nil {
			r.log.Warn("send to peer failed, marking for destruction: %v", err)
			r.queueDelete(p)
			return
		}
	}
}

func (r *Router) recvWorker(p *peer.Peer) {
	for {
		if p.Doomed() {
			return
		}
		frame, err := p.Connection().Recv(RecvPollInterval)
		if err != nil {
			var shutdown transport.ErrShutdown
			if errors.Is(err, shutdown) {
				return
			}
			if isTimeout(err) {
				continue
			}
			r.log.Warn("recv from peer failed, marking for destruction: %v", err)
			r.queueDelete(p)
			return
		}
		env := decodeFrame(frame)
		r.dispatch(p, env)
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

func encodeFrame(env *envelope.Envelope) transport.Frame {
	meta := encodeAddress(env.Metadata.From)
	for _, to := range env.Metadata.To {
		meta = append(meta, encodeAddress(to)...)
	}

	return transport.Frame{
		ClassId:  idBytes(env.Class),
		Version:  env.Metadata.Version,
		Metadata: meta,
		Payload:  env.Raw(),
	}
}

func decodeFrame(f transport.Frame) *envelope.Envelope {
	class := envelope.Class(idFromBytes(f.ClassId))
	meta := envelope.Metadata{Version: f.Version}

	const addrSize = 48
	if len(f.Metadata) >= addrSize {
		meta.From = decodeAddress(f.Metadata[0:addrSize])
		for off := addrSize; off+addrSize <= len(f.Metadata); off += addrSize {
			meta.To = append(meta.To, decodeAddress(f.Metadata[off:off+addrSize]))
		}
	}

	return envelope.New(class, meta, f.Payload)
}

func (r *Router) controlPump() {
	defer r.wg.Done()
	for {
		env, ok := r.controlQueue.Pop()
		if !ok {
			return
		}
		r.handleControl(env)
	}
}
