package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/robertarktes/group-seat-bookings/internal/invite"
)

// holdScript claims every seat key for the group or none of them. It
// returns the 1-based positions of seats held by someone else.
var holdScript = redis.NewScript(`
local failed = {}
for i = 2, #KEYS do
	local cur = redis.call('GET', KEYS[i])
	if cur and cur ~= ARGV[1] then
		table.insert(failed, i - 1)
	end
end
if #failed > 0 then
	return failed
end
for i = 2, #KEYS do
	redis.call('SET', KEYS[i], ARGV[1], 'PX', ARGV[2])
	redis.call('SADD', KEYS[1], KEYS[i])
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return failed
`)

// releaseScript deletes the group's seat keys that it still owns.
var releaseScript = redis.NewScript(`
local released = 0
for _, key in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	if redis.call('GET', key) == ARGV[1] then
		redis.call('DEL', key)
		released = released + 1
	end
end
redis.call('DEL', KEYS[1])
return released
`)

// SeatHolds keeps temporary seat claims in redis. It satisfies
// invite.SeatHoldPort. Keys share a hash tag per showtime so the scripts
// stay on one cluster slot.
type SeatHolds struct {
	client     *redis.Client
	defaultTTL time.Duration
}

func NewSeatHolds(client *redis.Client, defaultTTL time.Duration) *SeatHolds {
	return &SeatHolds{client: client, defaultTTL: defaultTTL}
}

func seatKey(showtimeID uuid.UUID, seat string) string {
	return fmt.Sprintf("hold:{%s}:%s", showtimeID, seat)
}

func groupKey(showtimeID uuid.UUID, group string) string {
	return fmt.Sprintf("holdgroup:{%s}:%s", showtimeID, group)
}

func (h *SeatHolds) Hold(ctx context.Context, showtimeID uuid.UUID, req invite.HoldRequest) (invite.HoldResult, error) {
	if len(req.SeatNumbers) == 0 {
		return invite.HoldResult{Success: true, Message: "nothing to hold"}, nil
	}
	if req.GroupKey == "" {
		return invite.HoldResult{}, errors.New("hold request without group key")
	}
	ttl := h.defaultTTL
	if req.HoldDurationMinutes > 0 {
		ttl = time.Duration(req.HoldDurationMinutes) * time.Minute
	}

	keys := make([]string, 0, len(req.SeatNumbers)+1)
	keys = append(keys, groupKey(showtimeID, req.GroupKey))
	for _, seat := range req.SeatNumbers {
		keys = append(keys, seatKey(showtimeID, seat))
	}
	failedIdx, err := holdScript.Run(ctx, h.client, keys, req.GroupKey, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return invite.HoldResult{}, errors.Wrap(err, "hold seats")
	}
	if len(failedIdx) > 0 {
		failed := make([]string, 0, len(failedIdx))
		for _, i := range failedIdx {
			failed = append(failed, req.SeatNumbers[i-1])
		}
		return invite.HoldResult{FailedSeats: failed, Message: "seats held by another booking"}, nil
	}
	return invite.HoldResult{
		Success:   true,
		HeldSeats: append([]string(nil), req.SeatNumbers...),
		Message:   fmt.Sprintf("held %d seats", len(req.SeatNumbers)),
	}, nil
}

func (h *SeatHolds) Release(ctx context.Context, showtimeID uuid.UUID, req invite.ReleaseRequest) (invite.ReleaseResult, error) {
	n, err := releaseScript.Run(ctx, h.client, []string{groupKey(showtimeID, req.GroupKey)}, req.GroupKey).Int64()
	if err != nil {
		return invite.ReleaseResult{}, errors.Wrap(err, "release seats")
	}
	return invite.ReleaseResult{Success: true, Message: fmt.Sprintf("released %d seats", n)}, nil
}

// Holder reports which group currently holds a seat, or "" if it is free.
func (h *SeatHolds) Holder(ctx context.Context, showtimeID uuid.UUID, seat string) (string, error) {
	v, err := h.client.Get(ctx, seatKey(showtimeID, seat)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}
