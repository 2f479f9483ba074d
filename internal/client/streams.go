package client

import (
	"sync"

	"github.com/dkeye/wtn/internal/domain"
	"github.com/dkeye/wtn/internal/negotiation"
	"github.com/pion/webrtc/v4"
)

// LocalStream is media captured by the application and published under
// Stream.
type LocalStream struct {
	Stream domain.StreamID
	Tracks []webrtc.TrackLocal

	mu      sync.Mutex
	room    domain.RoomName
	user    domain.UserID
	session *negotiation.Session
}

func (l *LocalStream) Session() *negotiation.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// MediaStream collects the inbound tracks of a subscription.
type MediaStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
	added  chan *webrtc.TrackRemote
}

func newMediaStream() *MediaStream {
	return &MediaStream{added: make(chan *webrtc.TrackRemote, 2)}
}

func (m *MediaStream) Tracks() []*webrtc.TrackRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), m.tracks...)
}

// Added delivers tracks as they arrive. It is buffered for one video and
// one audio track.
func (m *MediaStream) Added() <-chan *webrtc.TrackRemote { return m.added }

func (m *MediaStream) addTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	m.mu.Lock()
	m.tracks = append(m.tracks, track)
	m.mu.Unlock()
	select {
	case m.added <- track:
	default:
	}
}

// RemoteStream is a stream another user in the room published.
type RemoteStream struct {
	User   domain.UserID
	Room   domain.RoomName
	Stream domain.StreamID

	mu          sync.Mutex
	session     *negotiation.Session
	media       *MediaStream
	subscribing bool
	stopped     bool
}

func (r *RemoteStream) Session() *negotiation.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Media is nil until Subscribe was called.
func (r *RemoteStream) Media() *MediaStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.media
}

// stop releases the local transport of an active subscription. A
// subscription still being negotiated is released by Subscribe itself.
func (r *RemoteStream) stop() error {
	r.mu.Lock()
	r.stopped = true
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

type remoteRegistry struct {
	mu     sync.Mutex
	byUser map[domain.UserID]*RemoteStream
}

func newRemoteRegistry() *remoteRegistry {
	return &remoteRegistry{byUser: make(map[domain.UserID]*RemoteStream)}
}

// put registers rs and returns the stream it replaced, if any.
func (r *remoteRegistry) put(rs *RemoteStream) *RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byUser[rs.User]
	r.byUser[rs.User] = rs
	return prev
}

func (r *remoteRegistry) remove(user domain.UserID) *RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.byUser[user]
	if !ok {
		return nil
	}
	delete(r.byUser, user)
	return rs
}

func (r *remoteRegistry) get(user domain.UserID) (*RemoteStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.byUser[user]
	return rs, ok
}

func (r *remoteRegistry) drain() []*RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RemoteStream, 0, len(r.byUser))
	for user, rs := range r.byUser {
		out = append(out, rs)
		delete(r.byUser, user)
	}
	return out
}

type localRegistry struct {
	mu       sync.Mutex
	byStream map[domain.StreamID]*LocalStream
}

func newLocalRegistry() *localRegistry {
	return &localRegistry{byStream: make(map[domain.StreamID]*LocalStream)}
}

func (r *localRegistry) put(ls *LocalStream) {
	r.mu.Lock()
	r.byStream[ls.Stream] = ls
	r.mu.Unlock()
}

func (r *localRegistry) remove(stream domain.StreamID) {
	r.mu.Lock()
	delete(r.byStream, stream)
	r.mu.Unlock()
}

func (r *localRegistry) get(stream domain.StreamID) (*LocalStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.byStream[stream]
	return ls, ok
}
