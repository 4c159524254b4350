package ws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/folkengine/goname"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/geonote-chat/auth"
	"github.com/tcriess/geonote-chat/bot"
	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/globals"
	"github.com/tcriess/geonote-chat/types"
)

const (
	maxMessageSize       = 4096
	pongWait             = 2 * time.Minute
	pingPeriod           = time.Minute
	writeWait            = 10 * time.Second
	defaultBlobCacheSize = 256
)

var (
	ErrUnknownEndpoint = errors.New("endpoint is not connected")
	ErrSendBufferFull  = errors.New("send buffer full")
	ErrUnknownImage    = errors.New("unknown image")
)

// Handler receives the decoded inbound events of all connections. It is implemented by bot.Bot.
type Handler interface {
	HandleMessage(ctx context.Context, msg bot.Message)
	HandleCallback(ctx context.Context, cb bot.Callback)
	HandleDisconnect(ctx context.Context, user types.User, endpoint types.Endpoint)
}

var _ bot.Notifier = (*Server)(nil)

// Server is the websocket transport. Every connection is one endpoint, outgoing notifications are written to the
// connection's Send channel.
type Server struct {
	handler  Handler
	oidc     []config.OIDCConfig
	upgrader websocket.Upgrader

	// registered clients
	clients map[types.Endpoint]*Client

	// generated images, ref -> []byte
	blobs *lru.Cache

	logger hclog.Logger

	// mutex for manipulating the clients
	sync.RWMutex
}

func NewServer(cfg *config.Config, handler Handler) (*Server, error) {
	size := cfg.CacheConfig.Size
	if size <= 0 {
		size = defaultBlobCacheSize
	}
	blobs, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Server{
		handler: handler,
		oidc:    cfg.OIDCConfigs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[types.Endpoint]*Client),
		blobs:   blobs,
		logger:  globals.AppLogger.Named("ws"),
	}, nil
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/chat", s.websocketHandler).Methods(http.MethodGet)
	router.HandleFunc("/images/{ref:[0-9a-f]{64}}", s.imageHandler).Methods(http.MethodGet)
	return router
}

// NoClients returns the number of clients registered
func (s *Server) NoClients() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.clients)
}

// Close closes all connections. The handlers then unregister their clients.
func (s *Server) Close() {
	s.RLock()
	defer s.RUnlock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
}

// identify returns the user for the connection request. Users presenting a valid OIDC ID token are identified by
// their e-mail address, everybody else gets a random guest nick.
func (s *Server) identify(r *http.Request, endpoint types.Endpoint) (types.User, error) {
	vals := r.URL.Query()
	key := ""
	if idToken := vals.Get("id_token"); idToken != "" {
		if provider := vals.Get("provider"); provider != "" {
			var err error
			key, err = auth.Authenticate(r.Context(), idToken, provider, s.oidc)
			if err != nil {
				return types.User{}, err
			}
		}
	}
	if key != "" {
		return types.NewUser(key, key)
	}
	nick := goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	return types.NewUser("guest:"+string(endpoint), nick)
}

// Handle incoming websockets
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := types.Endpoint(uuid.NewString())
	user, err := s.identify(r, endpoint)
	if err != nil {
		s.logger.Warn("could not authenticate", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// Upgrade HTTP request to Websocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error", "error", err)
		return
	}

	// When this frame returns close the Websocket
	defer conn.Close() //nolint

	c := newClient(s, conn, user, endpoint)
	s.register(c)
	defer s.unregister(c)
	s.logger.Info("client connected", "endpoint", endpoint, "user", user.Id, "nick", user.Nick)

	info, err := types.Wire(types.WireMessageTypeInfo, types.InfoMessage{
		UserId:   user.Id,
		Nick:     user.Nick,
		Endpoint: endpoint,
	})
	if err == nil {
		err = s.send(endpoint, info)
	}
	if err != nil {
		s.logger.Error("could not send info", "endpoint", endpoint, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.WriteLoop()
	go c.ReadLoop(cancel)
	c.HandleLoop(ctx)

	// the connection is gone, but the room members still have to be told
	s.handler.HandleDisconnect(context.Background(), user, endpoint)
	s.logger.Info("client disconnected", "endpoint", endpoint, "user", user.Id)
}

func (s *Server) imageHandler(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	v, ok := s.blobs.Get(ref)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	image := v.([]byte)
	w.Header().Set("Content-Type", http.DetectContentType(image))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	_, _ = w.Write(image)
}

func (s *Server) register(c *Client) {
	s.Lock()
	defer s.Unlock()
	s.clients[c.endpoint] = c
}

// unregister removes the client and closes its Send channel. All writes to Send happen while holding the read
// lock and only for registered clients, so nobody writes to the closed channel.
func (s *Server) unregister(c *Client) {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.clients[c.endpoint]; !ok {
		return
	}
	delete(s.clients, c.endpoint)
	close(c.Send)
}

func (s *Server) send(endpoint types.Endpoint, data []byte) error {
	s.RLock()
	defer s.RUnlock()
	c, ok := s.clients[endpoint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendBufferFull, endpoint)
	}
}

// Notify sends text to all endpoints. Endpoints which are gone are skipped.
func (s *Server) Notify(_ context.Context, endpoints iter.Seq[types.Endpoint], text string) {
	data, err := types.Wire(types.WireMessageTypeText, types.TextMessage{Text: text})
	if err != nil {
		s.logger.Error("could not marshal text message", "error", err)
		return
	}
	for endpoint := range endpoints {
		if err := s.send(endpoint, data); err != nil {
			s.logger.Warn("could not notify", "error", err)
		}
	}
}

func (s *Server) Reply(_ context.Context, endpoint types.Endpoint, text string, buttons ...types.Button) error {
	data, err := types.Wire(types.WireMessageTypeText, types.TextMessage{Text: text, Buttons: buttons})
	if err != nil {
		return err
	}
	return s.send(endpoint, data)
}

// SendImage stores image and points endpoint to it. The returned ref is the hex encoded sha256 of the image.
func (s *Server) SendImage(ctx context.Context, endpoint types.Endpoint, image []byte, caption string, buttons ...types.Button) (string, error) {
	sum := sha256.Sum256(image)
	ref := hex.EncodeToString(sum[:])
	s.blobs.Add(ref, image)
	err := s.ResendImage(ctx, endpoint, ref, caption, buttons...)
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (s *Server) ResendImage(_ context.Context, endpoint types.Endpoint, ref string, caption string, buttons ...types.Button) error {
	if !s.blobs.Contains(ref) {
		return fmt.Errorf("%w: %s", ErrUnknownImage, ref)
	}
	data, err := types.Wire(types.WireMessageTypeImage, types.ImageMessage{
		Ref:     ref,
		Url:     "/images/" + ref,
		Caption: caption,
		Buttons: buttons,
	})
	if err != nil {
		return err
	}
	return s.send(endpoint, data)
}
