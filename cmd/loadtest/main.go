package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clinic-realtime/internal/auth"
	"clinic-realtime/internal/chat"
	"clinic-realtime/internal/db"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

type Config struct {
	URL         string        `env:"LOADTEST_URL" envDefault:"ws://localhost:8080/hubs/chat"`
	DatabaseDSN string        `env:"DB_DSN,required,notEmpty"`
	JWTSecret   string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer   string        `env:"JWT_ISSUER" envDefault:"clinic-realtime"`
	Pairs       int           `env:"LOADTEST_PAIRS" envDefault:"50"`
	Messages    int           `env:"LOADTEST_MESSAGES" envDefault:"20"`
	Interval    time.Duration `env:"LOADTEST_INTERVAL" envDefault:"10ms"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"INFO"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	ctx := context.Background()

	database, err := db.NewDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer database.Close()
	repo := chat.NewRepository(database.Conn)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)

	log.Info("Starting load test", "pairs", cfg.Pairs, "messages_per_user", cfg.Messages)
	start := time.Now()
	var st stats
	var wg sync.WaitGroup

	// Pair i is doctor lt_doc_i talking to patient lt_pat_i.
	for i := range cfg.Pairs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runPair(ctx, cfg, repo, tokens, i, &st, log); err != nil {
				st.failed.Add(1)
				log.Warn("pair failed", "pair", i, "error", err)
			}
		}()
	}
	wg.Wait()

	log.Info("Load test complete",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"sent", st.sent.Load(),
		"received", st.received.Load(),
		"failed_pairs", st.failed.Load(),
	)
	return nil
}

func runPair(ctx context.Context, cfg Config, repo *chat.Repository, tokens *auth.TokenService, pair int, st *stats, log *slog.Logger) error {
	doctor := auth.Identity{SubjectID: fmt.Sprintf("lt_doc_%d", pair), Role: auth.RoleDoctor}
	patient := auth.Identity{SubjectID: fmt.Sprintf("lt_pat_%d", pair), Role: auth.RolePatient}

	conv, err := repo.EnsureConversation(ctx, doctor.SubjectID, patient.SubjectID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, pairing := range [][2]auth.Identity{{doctor, patient}, {patient, doctor}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := chatter(cfg, tokens, conv.ID, pairing[0], pairing[1], st); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return err
	}
	log.Debug("pair finished", "pair", pair, "conversation_id", conv.ID)
	return nil
}

// chatter joins the conversation, sends cfg.Messages messages and counts
// every ReceiveMessage it sees until the socket goes quiet.
func chatter(cfg Config, tokens *auth.TokenService, conversationID int, self, peer auth.Identity, st *stats) error {
	token, err := tokens.Issue(self, time.Hour)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(withToken(cfg.URL, token), nil)
	if err != nil {
		return fmt.Errorf("dial as %s: %w", self.SubjectID, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"action": "joinChat", "conversationId": conversationID}); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var frame struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Event == chat.EventReceiveMessage {
				st.received.Add(1)
			}
		}
	}()

	for i := range cfg.Messages {
		err := conn.WriteJSON(map[string]any{
			"action":         "sendMessage",
			"conversationId": conversationID,
			"receiverId":     peer.SubjectID,
			"content":        fmt.Sprintf("load test message %d from %s", i, self.SubjectID),
		})
		if err != nil {
			return fmt.Errorf("send as %s: %w", self.SubjectID, err)
		}
		st.sent.Add(1)
		time.Sleep(cfg.Interval)
	}
	<-done
	return nil
}

func withToken(raw, token string) string {
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "access_token=" + url.QueryEscape(token)
}
