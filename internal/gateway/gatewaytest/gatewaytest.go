// Package gatewaytest runs an in-process media gateway for tests.
package gatewaytest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Answerer turns an offer into an answer. release is called when the
// session is deleted.
type Answerer interface {
	Answer(offer string) (answer string, release func(), err error)
}

// StaticAnswerer returns the same answer for every offer.
type StaticAnswerer string

func (a StaticAnswerer) Answer(string) (string, func(), error) {
	return string(a), func() {}, nil
}

// PionAnswerer answers with a real peer connection.
type PionAnswerer struct {
	Config webrtc.Configuration
}

func (a PionAnswerer) Answer(offer string) (string, func(), error) {
	pc, err := webrtc.NewPeerConnection(a.Config)
	if err != nil {
		return "", nil, err
	}
	release := func() { _ = pc.Close() }
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		release()
		return "", nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		release()
		return "", nil, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		release()
		return "", nil, err
	}
	<-gathered
	return pc.LocalDescription().SDP, release, nil
}

// Session is one negotiated gateway session.
type Session struct {
	ID         string
	Kind       string
	Stream     string
	AppID      string
	UserID     string
	Credential string
	Offer      string

	release func()
}

type Server struct {
	URL string

	srv      *httptest.Server
	answerer Answerer

	mu          sync.Mutex
	fail        map[string]bool
	calls       map[string]int
	sessions    map[string]*Session
	resourceIDs []string
}

func NewServer(a Answerer) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		answerer: a,
		fail:     make(map[string]bool),
		calls:    make(map[string]int),
		sessions: make(map[string]*Session),
	}
	r := gin.New()
	r.POST("/push/:stream", s.negotiate("push"))
	r.POST("/play/:stream", s.negotiate("play"))
	r.DELETE("/sessions/:id", s.delete)
	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	return s
}

func (s *Server) Close() {
	s.srv.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.release()
		delete(s.sessions, id)
	}
}

// Client returns an HTTP client that trusts the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

// Fail makes every later request of kind ("push", "play" or "delete")
// answer 500.
func (s *Server) Fail(kind string, fail bool) {
	s.mu.Lock()
	s.fail[kind] = fail
	s.mu.Unlock()
}

func (s *Server) Calls(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

// UseResourceIDs sets the ids handed out to the next sessions. Random ids
// are used once they run out.
func (s *Server) UseResourceIDs(ids ...string) {
	s.mu.Lock()
	s.resourceIDs = append(s.resourceIDs, ids...)
	s.mu.Unlock()
}

// ResourceURL is the teardown reference of session id.
func (s *Server) ResourceURL(id string) string {
	return s.URL + "/sessions/" + id
}

// Sessions returns the live sessions ordered by id.
func (s *Server) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) begin(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[kind]++
	return s.fail[kind]
}

func (s *Server) nextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.resourceIDs) > 0 {
		id := s.resourceIDs[0]
		s.resourceIDs = s.resourceIDs[1:]
		return id
	}
	return uuid.NewString()
}

func (s *Server) negotiate(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.begin(kind) {
			c.String(http.StatusInternalServerError, "%s failed", kind)
			return
		}
		if ct := c.GetHeader("Content-Type"); ct != "application/sdp" {
			c.String(http.StatusUnsupportedMediaType, "unexpected content type %q", ct)
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil || len(body) == 0 {
			c.String(http.StatusBadRequest, "offer required")
			return
		}

		answer, release, err := s.answerer.Answer(string(body))
		if err != nil {
			c.String(http.StatusBadRequest, "answer: %v", err)
			return
		}

		sess := &Session{
			ID:         s.nextID(),
			Kind:       kind,
			Stream:     c.Param("stream"),
			AppID:      c.Query("appId"),
			UserID:     c.Query("userId"),
			Credential: c.Query("credential"),
			Offer:      string(body),
			release:    release,
		}
		s.mu.Lock()
		s.sessions[sess.ID] = sess
		s.mu.Unlock()

		c.Header("Location", fmt.Sprintf("../sessions/%s", sess.ID))
		c.Data(http.StatusCreated, "application/sdp", []byte(answer))
	}
}

func (s *Server) delete(c *gin.Context) {
	if s.begin("delete") {
		c.String(http.StatusInternalServerError, "delete failed")
		return
	}
	id := c.Param("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		c.String(http.StatusNotFound, "no session %s", id)
		return
	}
	sess.release()
	c.Status(http.StatusNoContent)
}
