package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"talentchat/auth"
	"talentchat/config"
	"talentchat/db"
	"talentchat/protocol"
)

// maxFrameSize ограничивает размер входящего кадра.
const maxFrameSize = 64 * 1024

// Server owns accepted websocket connections: it performs the
// authentication handshake, dispatches message frames to the router and
// pushes delivery frames to registered connections.
type Server struct {
	cfg      *config.Config
	db       *db.DB
	registry *Registry
	router   *Router
	verifier auth.Verifier
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg *config.Config, database *db.DB, registry *Registry, router *Router, verifier auth.Verifier, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		db:       database,
		registry: registry,
		router:   router,
		verifier: verifier,
		log:      log.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Браузерные клиенты платформы ходят с разных origin,
			// авторизация все равно только по токену в рукопожатии.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsPeer - одно живое соединение. Запись сериализуется мьютексом: пуши
// роутера и ответы обработчика кадров идут из разных горутин.
type wsPeer struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func (p *wsPeer) Send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.conn.WriteJSON(v)
}

func (p *wsPeer) Close() error {
	return p.conn.Close()
}

// HandleWS upgrades the request and runs the connection's read loop.
func (s *Server) HandleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s.readLoop(conn, c.Request.RemoteAddr)
}

func (s *Server) readLoop(conn *websocket.Conn, remoteAddr string) {
	peer := &wsPeer{conn: conn, writeTimeout: s.cfg.WriteTimeout}

	// Идентичность появляется только после успешного рукопожатия.
	var identity, role string

	defer func() {
		if identity != "" && s.registry.Unregister(identity, peer) {
			s.log.Info().Str("user_id", identity).Str("remote", remoteAddr).Msg("client disconnected")
		}
		conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)

	// Пинг/понг продлевают дедлайн чтения: простаивающее, но живое
	// соединение не рвется по таймауту
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.cfg.WriteTimeout))
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	s.log.Debug().Str("remote", remoteAddr).Msg("client connected")

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := protocol.DecodeClient(data)
		if err != nil {
			// Битый кадр не рвет соединение
			s.log.Warn().Err(err).Str("remote", remoteAddr).Msg("malformed frame")
			s.sendFrame(peer, protocol.NewError("invalid frame"))
			continue
		}

		switch f := frame.(type) {
		case protocol.AuthFrame:
			if identity != "" {
				// Уже аутентифицирован, повторное рукопожатие - no-op
				s.sendFrame(peer, protocol.NewAuthenticated())
				continue
			}

			claims, err := s.verifier.Verify(f.Token)
			if err != nil {
				// Соединение остается открытым для повторной попытки
				s.sendFrame(peer, protocol.NewError("authentication failed"))
				continue
			}

			identity, role = claims.UserID, claims.Role
			if displaced := s.registry.Register(identity, role, peer); displaced != nil {
				// Последнее соединение победило, старое закрываем
				displaced.Close()
			}
			s.sendFrame(peer, protocol.NewAuthenticated())
			s.log.Info().Str("user_id", identity).Str("role", role).Str("remote", remoteAddr).Msg("client authenticated")

		case protocol.MessageFrame:
			if identity == "" {
				s.sendFrame(peer, protocol.NewError("not authenticated"))
				continue
			}

			if _, err := s.router.Send(identity, role, f.ReceiverID, f.Content, f.Support); err != nil {
				if errors.Is(err, ErrEmptyContent) || errors.Is(err, ErrReceiverRequired) {
					s.sendFrame(peer, protocol.NewError(err.Error()))
					continue
				}
				// Ошибка персистентности: кадр дропается, гарантию
				// доставки дает синхронный HTTP-путь
				s.log.Error().Err(err).Str("user_id", identity).Msg("message persist failed, frame dropped")
			}
		}
	}
}

func (s *Server) sendFrame(p *wsPeer, v any) {
	if err := p.Send(v); err != nil {
		s.log.Warn().Err(err).Msg("frame write failed")
	}
}

// Shutdown closes every live connection. Реестр живет в памяти процесса,
// после рестарта клиенты аутентифицируются заново.
func (s *Server) Shutdown() {
	s.registry.Shutdown()
}
