package lockstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/flight-seat-reservation/internal/lease"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// RedisStore keeps reservations in Redis.  Every mutation is one Lua
// script so the check and the write happen atomically on the server.
//
// Layout (prefix defaults to "seatlock", shown as P):
//
//	{P}:lock:<flight>:<seat>   hash  sid uid created expires renewed
//	{P}:flight:<flight>        set   seat ids with a record
//	{P}:holder:<holder key>    set   "<flight>:<seat>" members
//	{P}:expiry                 zset  "<flight>:<seat>" scored by expires (ms)
//
// The braces make the prefix a hash tag, so every key lands in one Redis
// Cluster slot, and each script only touches keys passed in KEYS.
// Holder sets may keep members whose record was evicted by another
// holder's acquire or by a sweep; ListByHolder filters and prunes them.
//
// Expiry is logical: records are not given a Redis TTL, they are judged
// against "now" passed in by the caller and removed by SweepExpired.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	clock  lease.Clock
}

// NewRedisStore returns a RedisStore using rdb.  An empty prefix means
// "seatlock" and a nil clock means the system clock.
func NewRedisStore(rdb *redis.Client, prefix string, clock lease.Clock) *RedisStore {
	if prefix == "" {
		prefix = "seatlock"
	}
	if clock == nil {
		clock = lease.SystemClock{}
	}
	return &RedisStore{rdb: rdb, prefix: prefix, clock: clock}
}

// luaHelpers is prepended to every script.
const luaHelpers = `
local function owns(lock, sid, uid)
  local csid = redis.call("HGET", lock, "sid") or ""
  local cuid = redis.call("HGET", lock, "uid") or ""
  if uid ~= "" then
    return cuid == uid
  end
  return cuid == "" and csid == sid
end

local function active(lock, now)
  local exp = redis.call("HGET", lock, "expires")
  return exp and tonumber(exp) > now
end

local function record(lock)
  return redis.call("HMGET", lock, "sid", "uid", "created", "expires", "renewed")
end

local function evict(lock, flight, expiry, seat, member)
  redis.call("DEL", lock)
  redis.call("SREM", flight, seat)
  redis.call("ZREM", expiry, member)
end
`

// KEYS: lock, flight, expiry, holder
// ARGV: seat, member, sid, uid, now, expires
var acquireScript = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[5])
if redis.call("EXISTS", KEYS[1]) == 1 then
  if active(KEYS[1], now) then
    local cur = record(KEYS[1])
    return {0, cur[1], cur[2], cur[3], cur[4], cur[5]}
  end
  evict(KEYS[1], KEYS[2], KEYS[3], ARGV[1], ARGV[2])
end
redis.call("HSET", KEYS[1], "sid", ARGV[3], "uid", ARGV[4], "created", ARGV[5], "expires", ARGV[6], "renewed", "0")
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[6], ARGV[2])
redis.call("SADD", KEYS[4], ARGV[2])
local cur = record(KEYS[1])
return {1, cur[1], cur[2], cur[3], cur[4], cur[5]}
`)

// KEYS: lock, flight, expiry, caller's holder set
// ARGV: seat, member, sid, uid, now
var releaseScript = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[5])
if redis.call("EXISTS", KEYS[1]) == 0 then
  redis.call("SREM", KEYS[4], ARGV[2])
  return 1
end
if active(KEYS[1], now) and not owns(KEYS[1], ARGV[3], ARGV[4]) then
  return 0
end
evict(KEYS[1], KEYS[2], KEYS[3], ARGV[1], ARGV[2])
redis.call("SREM", KEYS[4], ARGV[2])
return 1
`)

// KEYS: lock, expiry
// ARGV: member, sid, uid, now, expires
var renewScript = redis.NewScript(luaHelpers + `
if not active(KEYS[1], tonumber(ARGV[4])) or not owns(KEYS[1], ARGV[2], ARGV[3]) then
  return {0}
end
redis.call("HSET", KEYS[1], "expires", ARGV[5], "renewed", "1")
redis.call("ZADD", KEYS[2], ARGV[5], ARGV[1])
local cur = record(KEYS[1])
return {1, cur[1], cur[2], cur[3], cur[4], cur[5]}
`)

// KEYS: lock, new holder set, old holder set
// ARGV: member, from sid, from uid, now, to sid, to uid
var reassignScript = redis.NewScript(luaHelpers + `
if not active(KEYS[1], tonumber(ARGV[4])) or not owns(KEYS[1], ARGV[2], ARGV[3]) then
  return {0}
end
redis.call("SREM", KEYS[3], ARGV[1])
redis.call("HSET", KEYS[1], "sid", ARGV[5], "uid", ARGV[6])
redis.call("SADD", KEYS[2], ARGV[1])
local cur = record(KEYS[1])
return {1, cur[1], cur[2], cur[3], cur[4], cur[5]}
`)

// KEYS: lock, flight, expiry
// ARGV: seat, member, now
var evictScript = redis.NewScript(luaHelpers + `
if active(KEYS[1], tonumber(ARGV[3])) then
  return 0
end
evict(KEYS[1], KEYS[2], KEYS[3], ARGV[1], ARGV[2])
return 1
`)

// KEYS: holder set, then one lock per member
// ARGV: sid, uid, now, then the members in KEYS order
var pruneScript = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[3])
local n = 0
for i = 2, #KEYS do
  if not active(KEYS[i], now) or not owns(KEYS[i], ARGV[1], ARGV[2]) then
    n = n + redis.call("SREM", KEYS[1], ARGV[i + 2])
  end
end
return n
`)

// tag wraps the prefix in braces so all keys share a cluster slot.
func (s *RedisStore) tag() string { return "{" + s.prefix + "}" }

func (s *RedisStore) lockKey(k model.SeatKey) string {
	return fmt.Sprintf("%s:lock:%d:%s", s.tag(), k.FlightID, k.SeatID)
}

func (s *RedisStore) flightKey(flightID uint64) string {
	return fmt.Sprintf("%s:flight:%d", s.tag(), flightID)
}

func (s *RedisStore) holderKey(h model.Holder) string {
	return s.tag() + ":holder:" + h.Key()
}

func (s *RedisStore) expiryKey() string { return s.tag() + ":expiry" }

func parseMember(m string) (model.SeatKey, error) {
	f, seat, ok := strings.Cut(m, ":")
	if !ok {
		return model.SeatKey{}, fmt.Errorf("malformed lock member %q", m)
	}
	id, err := strconv.ParseUint(f, 10, 64)
	if err != nil {
		return model.SeatKey{}, fmt.Errorf("malformed lock member %q: %w", m, err)
	}
	return model.SeatKey{FlightID: id, SeatID: seat}, nil
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func msToTime(s string) time.Time {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return time.UnixMilli(ms).UTC()
}

// decodeRecord turns the {status, sid, uid, created, expires, renewed}
// reply of a script into a reservation.
func decodeRecord(key model.SeatKey, vals []interface{}) (bool, model.Reservation, error) {
	if len(vals) == 0 {
		return false, model.Reservation{}, errors.New("empty script reply")
	}
	ok, _ := vals[0].(int64)
	if len(vals) < 6 {
		return ok == 1, model.Reservation{}, nil
	}
	return ok == 1, model.Reservation{
		FlightID:  key.FlightID,
		SeatID:    key.SeatID,
		Holder:    model.Holder{SessionID: toString(vals[1]), UserID: toString(vals[2])},
		CreatedAt: msToTime(toString(vals[3])),
		ExpiresAt: msToTime(toString(vals[4])),
		Renewed:   toString(vals[5]) == "1",
	}, nil
}

func fromHash(key model.SeatKey, h map[string]string) model.Reservation {
	return model.Reservation{
		FlightID:  key.FlightID,
		SeatID:    key.SeatID,
		Holder:    model.Holder{SessionID: h["sid"], UserID: h["uid"]},
		CreatedAt: msToTime(h["created"]),
		ExpiresAt: msToTime(h["expires"]),
		Renewed:   h["renewed"] == "1",
	}
}

func (s *RedisStore) TryAcquire(ctx context.Context, key model.SeatKey, holder model.Holder, expiresAt time.Time) (model.Reservation, error) {
	vals, err := acquireScript.Run(ctx, s.rdb,
		[]string{s.lockKey(key), s.flightKey(key.FlightID), s.expiryKey(), s.holderKey(holder)},
		key.SeatID, key.String(), holder.SessionID, holder.UserID,
		s.clock.Now().UnixMilli(), expiresAt.UnixMilli(),
	).Slice()
	if err != nil {
		return model.Reservation{}, fmt.Errorf("acquire %s: %w", key, err)
	}
	ok, r, err := decodeRecord(key, vals)
	if err != nil {
		return model.Reservation{}, err
	}
	if !ok {
		return model.Reservation{}, &ConflictError{Current: r}
	}
	return r, nil
}

func (s *RedisStore) Release(ctx context.Context, key model.SeatKey, holder model.Holder) error {
	if holder.IsZero() {
		return ErrNotHeld
	}
	n, err := releaseScript.Run(ctx, s.rdb,
		[]string{s.lockKey(key), s.flightKey(key.FlightID), s.expiryKey(), s.holderKey(holder)},
		key.SeatID, key.String(), holder.SessionID, holder.UserID, s.clock.Now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (s *RedisStore) Renew(ctx context.Context, key model.SeatKey, holder model.Holder, expiresAt time.Time) (model.Reservation, error) {
	if holder.IsZero() {
		return model.Reservation{}, ErrNotHeld
	}
	vals, err := renewScript.Run(ctx, s.rdb,
		[]string{s.lockKey(key), s.expiryKey()},
		key.String(), holder.SessionID, holder.UserID, s.clock.Now().UnixMilli(), expiresAt.UnixMilli(),
	).Slice()
	if err != nil {
		return model.Reservation{}, fmt.Errorf("renew %s: %w", key, err)
	}
	ok, r, err := decodeRecord(key, vals)
	if err != nil {
		return model.Reservation{}, err
	}
	if !ok {
		return model.Reservation{}, ErrNotHeld
	}
	return r, nil
}

func (s *RedisStore) ReassignHolder(ctx context.Context, key model.SeatKey, from, to model.Holder) (model.Reservation, error) {
	if from.IsZero() {
		return model.Reservation{}, ErrNotHeld
	}
	vals, err := reassignScript.Run(ctx, s.rdb,
		[]string{s.lockKey(key), s.holderKey(to), s.holderKey(from)},
		key.String(), from.SessionID, from.UserID, s.clock.Now().UnixMilli(), to.SessionID, to.UserID,
	).Slice()
	if err != nil {
		return model.Reservation{}, fmt.Errorf("reassign %s: %w", key, err)
	}
	ok, r, err := decodeRecord(key, vals)
	if err != nil {
		return model.Reservation{}, err
	}
	if !ok {
		return model.Reservation{}, ErrNotHeld
	}
	return r, nil
}

func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) ([]model.SeatKey, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expiry index: %w", err)
	}
	var evicted []model.SeatKey
	for _, m := range members {
		key, err := parseMember(m)
		if err != nil {
			// Drop garbage from the index so it is not rescanned forever.
			s.rdb.ZRem(ctx, s.expiryKey(), m)
			continue
		}
		n, err := evictScript.Run(ctx, s.rdb,
			[]string{s.lockKey(key), s.flightKey(key.FlightID), s.expiryKey()},
			key.SeatID, m, now.UnixMilli(),
		).Int()
		if err != nil {
			return evicted, fmt.Errorf("evict %s: %w", key, err)
		}
		if n == 1 {
			evicted = append(evicted, key)
		}
	}
	sortKeys(evicted)
	return evicted, nil
}

// loadActive fetches the hashes for keys in one pipeline and keeps the
// active ones that satisfy keep.
func (s *RedisStore) loadActive(ctx context.Context, keys []model.SeatKey, keep func(model.Reservation) bool) ([]model.Reservation, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.lockKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var out []model.Reservation
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		r := fromHash(keys[i], h)
		if r.ActiveAt(now) && keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RedisStore) ListForFlight(ctx context.Context, flightID uint64) (map[string]model.Reservation, error) {
	seats, err := s.rdb.SMembers(ctx, s.flightKey(flightID)).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]model.SeatKey, len(seats))
	for i, seat := range seats {
		keys[i] = model.SeatKey{FlightID: flightID, SeatID: seat}
	}
	list, err := s.loadActive(ctx, keys, func(model.Reservation) bool { return true })
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Reservation, len(list))
	for _, r := range list {
		out[r.SeatID] = r
	}
	return out, nil
}

func (s *RedisStore) ListByHolder(ctx context.Context, holder model.Holder) ([]model.Reservation, error) {
	if holder.IsZero() {
		return nil, nil
	}
	members, err := s.rdb.SMembers(ctx, s.holderKey(holder)).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]model.SeatKey, 0, len(members))
	for _, m := range members {
		k, err := parseMember(m)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	sortKeys(keys)
	out, err := s.loadActive(ctx, keys, func(r model.Reservation) bool { return holder.Owns(r.Holder) })
	if err != nil {
		return nil, err
	}
	if len(out) < len(members) {
		s.prune(ctx, holder, keys, out)
	}
	return out, nil
}

// prune drops holder set members that no longer point at one of the
// holder's active records.  The script re-checks each record, so a seat
// re-acquired in the meantime keeps its member.
func (s *RedisStore) prune(ctx context.Context, holder model.Holder, keys []model.SeatKey, live []model.Reservation) {
	alive := make(map[model.SeatKey]bool, len(live))
	for _, r := range live {
		alive[r.Key()] = true
	}
	scriptKeys := []string{s.holderKey(holder)}
	args := []interface{}{holder.SessionID, holder.UserID, s.clock.Now().UnixMilli()}
	for _, k := range keys {
		if alive[k] {
			continue
		}
		scriptKeys = append(scriptKeys, s.lockKey(k))
		args = append(args, k.String())
	}
	if len(scriptKeys) == 1 {
		return
	}
	_ = pruneScript.Run(ctx, s.rdb, scriptKeys, args...).Err()
}
