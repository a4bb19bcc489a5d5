package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"subatomic/internal/config"
	"subatomic/internal/game"
	"subatomic/internal/ledger"
	"subatomic/internal/moderation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	game    *game.Service
	captcha *moderation.Captcha
	bans    *moderation.Bans
	mux     *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service, captcha *moderation.Captcha, bans *moderation.Bans) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		game:    gameSvc,
		captcha: captcha,
		bans:    bans,
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr reports the listen address the server was configured with.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/users/{user_id}", func(r chi.Router) {
			r.Post("/gain", s.handleGain)
			r.Post("/probabilize", s.handleProbabilize)
			r.Post("/differentiate", s.handleDifferentiate)
			r.Post("/condense", s.handleCondense)
			r.Post("/hadronize", s.handleHadronize)
			r.Post("/nucleosynthesize", s.handleNucleosynthesize)
			r.Post("/fission", s.handleFission)
			r.Get("/profile", s.handleProfile)
			r.Get("/multipliers", s.handleMultipliers)
			r.Get("/shop", s.handleShop)
			r.Post("/shop/buy", s.handleShopBuy)

			r.Get("/captcha/image", s.handleCaptchaImage)
			r.Post("/captcha/verify", s.handleCaptchaVerify)
			r.Post("/captcha/regenerate", s.handleCaptchaRegenerate)
		})

		r.Get("/leaderboard", s.handleLeaderboard)

		r.Route("/moderation/users/{user_id}", func(r chi.Router) {
			r.Get("/ban", s.handleBanStatus)
			r.Post("/ban", s.handleBan)
			r.Post("/unban", s.handleUnban)
		})
	})
}

func userID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "user_id"))
}

type amountInput struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleGain(w http.ResponseWriter, r *http.Request) {
	res, err := s.game.Gain(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProbabilize(w http.ResponseWriter, r *http.Request) {
	var in amountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.Probabilize(r.Context(), userID(r), in.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDifferentiate(w http.ResponseWriter, r *http.Request) {
	var in amountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.Differentiate(r.Context(), userID(r), in.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCondense(w http.ResponseWriter, r *http.Request) {
	var in amountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.Condense(r.Context(), userID(r), in.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHadronize(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Protons  int64 `json:"protons"`
		Neutrons int64 `json:"neutrons"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.Hadronize(r.Context(), userID(r), in.Protons, in.Neutrons)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNucleosynthesize(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Atom  string `json:"atom"`
		Count int64  `json:"count"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.Nucleosynthesize(r.Context(), userID(r), in.Atom, in.Count)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFission(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.Fission(r.Context(), userID(r), in.Confirm)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	view, err := s.game.Profile(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMultipliers(w http.ResponseWriter, r *http.Request) {
	view, err := s.game.Multipliers(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleShop(w http.ResponseWriter, r *http.Request) {
	listings, err := s.game.Catalog(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleShopBuy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Item string `json:"item"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.Buy(r.Context(), userID(r), in.Item)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 100 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 100]")
			return
		}
		limit = v
	}
	entries, err := s.game.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCaptchaImage(w http.ResponseWriter, r *http.Request) {
	ch, active, err := s.captcha.Active(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !active {
		writeError(w, http.StatusNotFound, "no active captcha")
		return
	}
	png, err := moderation.RenderImage(ch.Text, moderation.RenderSeed(ch))
	if err != nil {
		s.log.Error("captcha render failed", "error", err)
		writeError(w, http.StatusInternalServerError, "captcha render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleCaptchaVerify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.captcha.Verify(r.Context(), userID(r), in.Answer)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	payload := map[string]any{"action": verifyActionString(res.Action)}
	switch res.Action {
	case moderation.VerifyRetry, moderation.VerifyAutoRegenerated:
		payload["attempts_left"] = res.Challenge.AttemptsLeft()
		payload["regenerations_left"] = res.Challenge.RegenerationsLeft()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleCaptchaRegenerate(w http.ResponseWriter, r *http.Request) {
	ch, err := s.captcha.Regenerate(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts_left":      ch.AttemptsLeft(),
		"regenerations_left": ch.RegenerationsLeft(),
	})
}

func (s *Server) handleBanStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.bans.Info(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"banned":            info.Banned,
		"permanent":         info.Permanent,
		"reason":            info.Reason,
		"remaining_seconds": int64(info.Remaining.Seconds()),
	})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Permanent bool   `json:"permanent"`
		Duration  string `json:"duration"`
		Reason    string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	uid := userID(r)
	if in.Permanent {
		if err := s.bans.BanPermanently(r.Context(), uid, in.Reason); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"banned": true, "permanent": true})
		return
	}
	d, err := time.ParseDuration(in.Duration)
	if err != nil || d <= 0 {
		writeError(w, http.StatusBadRequest, "duration must be a positive Go duration, e.g. 720h")
		return
	}
	if err := s.bans.BanFor(r.Context(), uid, d, in.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"banned": true, "until": time.Now().Add(d).UTC()})
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	if err := s.bans.Unban(r.Context(), userID(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"banned": false})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		insufficient *game.InsufficientError
		cooldown     *game.CooldownError
		locked       *game.LockedError
		banned       *moderation.BannedError
		required     *moderation.CaptchaRequiredError
		storage      *ledger.StorageError
	)
	switch {
	case errors.Is(err, game.ErrInvalidInput), errors.Is(err, game.ErrUnknownAtom):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   insufficient.Error(),
			"missing": insufficient.Missing,
		})
	case errors.As(err, &cooldown):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":          cooldown.Error(),
			"retry_after_ms": cooldown.Remaining.Milliseconds(),
		})
	case errors.As(err, &locked):
		writeError(w, http.StatusForbidden, locked.Error())
	case errors.As(err, &banned):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":             banned.Error(),
			"banned":            true,
			"permanent":         banned.Permanent,
			"reason":            banned.Reason,
			"remaining_seconds": int64(banned.Remaining.Seconds()),
		})
	case errors.As(err, &required):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":              "captcha required",
			"captcha_required":   true,
			"attempts_left":      required.Challenge.AttemptsLeft(),
			"regenerations_left": required.Challenge.RegenerationsLeft(),
		})
	case errors.Is(err, moderation.ErrNoChallenge):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, moderation.ErrRegenerationsExhausted):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &storage):
		// The cause is already logged with the correlation id; the caller
		// only sees the reference.
		writeError(w, http.StatusServiceUnavailable, storage.Error())
	default:
		s.log.Error("unhandled action error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func verifyActionString(a moderation.VerifyAction) string {
	switch a {
	case moderation.VerifySolved:
		return "solved"
	case moderation.VerifyRetry:
		return "retry"
	case moderation.VerifyAutoRegenerated:
		return "regenerated"
	case moderation.VerifyExpired:
		return "expired"
	case moderation.VerifyBanned:
		return "banned"
	default:
		return fmt.Sprintf("unknown(%d)", a)
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
