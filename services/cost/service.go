package cost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"go.uber.org/zap"
)

var (
	ErrBudgetExceeded   = errors.New("daily cost budget exceeded")
	ErrStoreUnavailable = errors.New("cost ledger unavailable")
)

// Ledger entries live past the day boundary, then expire on their own.
const ledgerTTL = 48 * time.Hour

// Reconcile markers outlive any reasonable retry horizon.
const markerTTL = 24 * time.Hour

func ledgerKey(userID uint, day string) string {
	return fmt.Sprintf("cost:%d:%s", userID, day)
}

func markerKey(requestID string) string {
	return "cost_adj:" + requestID
}

// chargeScript adds the estimate to the day's ledger only if the result
// stays within the cap. The comparison and the increment are one atomic
// step; a rejected request leaves the ledger untouched.
var chargeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current + tonumber(ARGV[1]) > tonumber(ARGV[2]) then
	return 0
end
redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// reconcileScript applies the estimate-vs-actual delta exactly once per
// request id. Retries see the marker and become no-ops.
var reconcileScript = redis.NewScript(`
if redis.call('SET', KEYS[2], '1', 'NX', 'EX', ARGV[2]) == false then
	return 0
end
local total = tonumber(redis.call('INCRBYFLOAT', KEYS[1], ARGV[1]))
if total < 0 then
	redis.call('SET', KEYS[1], '0')
end
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Service tracks per-user daily spend against role-specific caps, gating
// cost-bearing downstream calls. Estimates are charged before the call;
// actual costs reconcile the ledger afterwards.
type Service struct {
	redis  *redis.Client
	config *config.Config
	logger *logging.Service
	now    func() time.Time
}

func NewService(client *redis.Client, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		redis:  client,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) day() string {
	return s.now().UTC().Format("2006-01-02")
}

// Charge admits the request if the estimated cost fits under the user's
// remaining daily budget, adding it to the ledger atomically. Over-budget
// requests are rejected whole, never partially served. The ledger is
// money-critical, so storage errors fail closed.
func (s *Service) Charge(ctx context.Context, userID uint, role string, estimate float64) error {
	if !s.config.Cost.Enabled {
		return nil
	}
	if estimate < 0 {
		return fmt.Errorf("negative cost estimate: %f", estimate)
	}

	cap := s.config.Cost.CapForRole(role)
	admitted, err := chargeScript.Run(ctx, s.redis,
		[]string{ledgerKey(userID, s.day())},
		strconv.FormatFloat(estimate, 'f', -1, 64),
		strconv.FormatFloat(cap, 'f', -1, 64),
		int64(ledgerTTL.Seconds()),
	).Int64()
	if err != nil {
		s.logger.Error("cost charge failed",
			zap.Uint("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if admitted == 0 {
		s.logger.Warn("cost budget exceeded",
			zap.Uint("user_id", userID),
			zap.String("role", role),
			zap.Float64("estimate", estimate),
			zap.Float64("cap", cap))
		return ErrBudgetExceeded
	}

	return nil
}

// Reconcile adjusts the ledger from the estimated to the actual cost of a
// completed call. Keyed by request id and idempotent: a retried
// reconciliation never double-charges.
func (s *Service) Reconcile(ctx context.Context, userID uint, requestID string, estimate, actual float64) error {
	if !s.config.Cost.Enabled {
		return nil
	}

	delta := actual - estimate
	applied, err := reconcileScript.Run(ctx, s.redis,
		[]string{ledgerKey(userID, s.day()), markerKey(requestID)},
		strconv.FormatFloat(delta, 'f', -1, 64),
		int64(markerTTL.Seconds()),
		int64(ledgerTTL.Seconds()),
	).Int64()
	if err != nil {
		s.logger.Error("cost reconciliation failed",
			zap.Uint("user_id", userID),
			zap.String("request_id", requestID),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if applied == 0 {
		s.logger.Debug("cost reconciliation already applied",
			zap.String("request_id", requestID))
		return nil
	}

	s.logger.Debug("cost ledger reconciled",
		zap.Uint("user_id", userID),
		zap.Float64("delta", delta))

	return nil
}

// SpentToday returns the user's running total for the current day.
func (s *Service) SpentToday(ctx context.Context, userID uint) (float64, error) {
	val, err := s.redis.Get(ctx, ledgerKey(userID, s.day())).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return val, nil
}
