package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
)

// sessionHandler applies control messages from one peer to its machine.
type sessionHandler struct {
	node *Node
	pc   *peerConn
}

func (h *sessionHandler) HandleConnect(_ context.Context, msg *protocol.Connect) error {
	h.pc.session.MarkConnected(msg.DeviceName)
	h.pc.machine.SetPeer(msg.DeviceName)
	h.node.logger.Infof("Peer %s connected from %s", msg.DeviceName, h.pc.session.RemoteAddr())
	h.node.emit(Event{Type: EventConnected, Peer: msg.DeviceName})
	return nil
}

// requireIntroduced rejects transfer frames that arrive before connect.
func (h *sessionHandler) requireIntroduced(event protocol.Event) error {
	if h.pc.introduced() {
		return nil
	}
	err := fmt.Errorf("%w: %s from %s", ErrNotIntroduced, event, h.pc.session.RemoteAddr())
	h.node.emit(Event{Type: EventWarning, Err: err})
	return err
}

func (h *sessionHandler) HandleFileAck(ctx context.Context, msg *protocol.FileAck) error {
	if err := h.requireIntroduced(msg.Event()); err != nil {
		return err
	}

	sendCtx, cancel := h.node.writeContext(ctx)
	defer cancel()

	pending, err := h.pc.machine.StartReceive(sendCtx, msg.File)
	if errors.Is(err, transfer.ErrReceiveBusy) || errors.Is(err, transfer.ErrFileTooLarge) || errors.Is(err, protocol.ErrMalformed) {
		h.node.emit(Event{Type: EventWarning, Peer: h.pc.session.DeviceName(), Err: err})
		return err
	}
	if pending != nil {
		h.node.emit(Event{Type: EventIncoming, Peer: h.pc.session.DeviceName(), Pending: pending})
		h.node.persistIfDone(pending)
	}
	return err
}

func (h *sessionHandler) HandleSendChunkAck(ctx context.Context, msg *protocol.SendChunkAck) error {
	if err := h.requireIntroduced(msg.Event()); err != nil {
		return err
	}

	sendCtx, cancel := h.node.writeContext(ctx)
	defer cancel()

	rec, err := h.pc.machine.HandleSendChunkAck(sendCtx, msg.ChunkNo)
	if rec != nil {
		h.node.persist(rec)
	}
	return err
}

func (h *sessionHandler) HandleReceiveChunkAck(ctx context.Context, msg *protocol.ReceiveChunkAck) error {
	if err := h.requireIntroduced(msg.Event()); err != nil {
		return err
	}

	sendCtx, cancel := h.node.writeContext(ctx)
	defer cancel()

	rec, err := h.pc.machine.HandleChunk(sendCtx, msg.ChunkNo, msg.Chunk)
	if errors.Is(err, transfer.ErrDuplicateChunk) {
		h.node.logger.Debugf("Ignoring %v", err)
		return nil
	}
	if rec != nil {
		h.node.persist(rec)
	}
	return err
}

func (h *sessionHandler) HandleClosed(err error) {
	h.node.teardown(h.pc, err)
}
