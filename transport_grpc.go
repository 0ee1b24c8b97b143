package raft

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// transportServiceDesc is a hand-written grpc.ServiceDesc: there is no
// .proto file backing this transport (spec's wire envelope is a plain
// Message, carried by the msgpack codec registered in codec.go), so the
// descriptor that would normally come out of protoc is written directly
// against grpc's own un-exported-free public API.
var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "raft.Transport",
	HandlerType: (*grpcInbox)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Send",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				var msg Message
				if err := dec(&msg); err != nil {
					return nil, err
				}
				srv.(grpcInbox).deliver(msg)
				return &ackMessage{}, nil
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raft/transport.proto",
}

// ackMessage is the empty response every Send call returns; it exists as
// a concrete type only because the msgpack codec needs something to
// encode, unlike protobuf's google.protobuf.Empty.
type ackMessage struct{}

type grpcInbox interface {
	deliver(msg Message)
}

// GRPCTransport implements Transport over grpc using static peer
// endpoints. It keeps the teacher's message envelope and ServiceDesc
// registration pattern (grpc.ServiceDesc/grpc.MethodDesc wired by hand
// instead of protoc-generated stubs, msgpack in place of protobuf) but
// not its tryClient/connectLocked/disconnectLocked reconnect state
// machine: spec §7 already makes the Raft protocol itself responsible
// for retrying a failed RPC (the next heartbeat, the next election), so
// Send here is a simple lazy dial-and-cache with no retry loop of its
// own.
type GRPCTransport struct {
	self   NodeId
	logger *zap.Logger

	listener net.Listener
	server   *grpc.Server
	inbox    chan InboundMessage

	addrsMu sync.RWMutex
	addrs   map[NodeId]string

	connsMu sync.Mutex
	conns   map[NodeId]*grpc.ClientConn
}

// NewGRPCTransport binds listenAddr and builds a transport that resolves
// peer ids to endpoints via addrs. addrs may be extended later with
// AddPeer, e.g. once a reconfiguration introduces a new member.
func NewGRPCTransport(self NodeId, listenAddr string, addrs map[NodeId]string, logger *zap.Logger) (*GRPCTransport, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	peerAddrs := make(map[NodeId]string, len(addrs))
	for id, addr := range addrs {
		peerAddrs[id] = addr
	}
	return &GRPCTransport{
		self:     self,
		logger:   logger,
		listener: listener,
		inbox:    make(chan InboundMessage, 256),
		addrs:    peerAddrs,
		conns:    make(map[NodeId]*grpc.ClientConn),
	}, nil
}

func (t *GRPCTransport) deliver(msg Message) {
	select {
	case t.inbox <- InboundMessage{From: msg.Sender, Message: msg}:
	default:
		t.logger.Warn("inbox full, dropping inbound message", zap.String("from", string(msg.Sender)))
	}
}

// Endpoint returns the address this transport is actually listening on,
// useful when listenAddr was ":0".
func (t *GRPCTransport) Endpoint() string { return t.listener.Addr().String() }

// AddPeer registers (or updates) the dial address for a peer, picked up
// lazily the next time Send targets that peer.
func (t *GRPCTransport) AddPeer(id NodeId, addr string) {
	t.addrsMu.Lock()
	defer t.addrsMu.Unlock()
	t.addrs[id] = addr
}

// Serve blocks, accepting connections until Close is called. Run it in
// its own goroutine alongside Node.Run.
func (t *GRPCTransport) Serve() error {
	t.server = grpc.NewServer()
	t.server.RegisterService(&transportServiceDesc, t)
	return t.server.Serve(t.listener)
}

// Close stops accepting new RPCs and tears down every outbound
// connection this transport opened.
func (t *GRPCTransport) Close() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
	return nil
}

// Send is fire-and-forget: a dial or RPC failure is logged and otherwise
// swallowed, since spec §7 makes the protocol itself responsible for
// retrying (the next heartbeat, the next election).
func (t *GRPCTransport) Send(dst NodeId, msg Message) {
	if dst == t.self {
		t.logger.Warn("refusing to dial self", zap.String("peer", string(dst)))
		return
	}
	conn, err := t.connFor(dst)
	if err != nil {
		t.logger.Debug("dial failed", zap.String("peer", string(dst)), zap.Error(&TransportError{Cause: err}))
		return
	}
	var ack ackMessage
	if err := conn.Invoke(context.Background(), "/raft.Transport/Send", &msg, &ack, grpc.CallContentSubtype(msgpackCodecName)); err != nil {
		t.logger.Debug("send failed", zap.String("peer", string(dst)), zap.Error(&TransportError{Cause: err}))
	}
}

// Inbox yields every message this transport's server has received.
func (t *GRPCTransport) Inbox() <-chan InboundMessage { return t.inbox }

func (t *GRPCTransport) connFor(id NodeId) (*grpc.ClientConn, error) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if conn, ok := t.conns[id]; ok {
		return conn, nil
	}
	t.addrsMu.RLock()
	addr, ok := t.addrs[id]
	t.addrsMu.RUnlock()
	if !ok {
		return nil, &InvalidArgumentError{Reason: "no known address for peer " + string(id)}
	}
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	t.conns[id] = conn
	return conn, nil
}
