package redis

import "github.com/redis/go-redis/v9"

// The claim, renew, and owned-update operations decode the entity blob
// server-side with cmsgpack, re-check claimability or lease ownership,
// and write back in one atomic script. Blobs always carry every field
// (no omitempty), so the scripts can compare without nil checks.

// claimJobScript claims a job when it is still claimable.
// KEYS[1] = job key. ARGV = owner, now (ms), lease expiry (ms).
var claimJobScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local j = cmsgpack.unpack(raw)
local now = tonumber(ARGV[2])
local st = j.status
if st ~= 'idle' and st ~= 'queued' and st ~= 'in_progress' then return 0 end
if j.execute_at > now then return 0 end
if j.lease_owner ~= '' and j.lease_expires_at > now then return 0 end
if j.parent_id ~= '' and st == 'idle' then return 0 end
j.status = 'in_progress'
j.lease_owner = ARGV[1]
j.lease_expires_at = tonumber(ARGV[3])
if j.started_at == 0 then j.started_at = now end
j.updated_at = now
redis.call('SET', KEYS[1], cmsgpack.pack(j))
return 1
`)

// claimOccScript claims an occurrence when it is still claimable.
// KEYS[1] = occurrence key. ARGV = owner, now (ms), lease expiry (ms).
var claimOccScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local o = cmsgpack.unpack(raw)
local now = tonumber(ARGV[2])
local st = o.status
if st ~= 'idle' and st ~= 'queued' and st ~= 'in_progress' then return 0 end
if o.due_at > now then return 0 end
if o.lease_owner ~= '' and o.lease_expires_at > now then return 0 end
o.status = 'in_progress'
o.lease_owner = ARGV[1]
o.lease_expires_at = tonumber(ARGV[3])
if o.started_at == 0 then o.started_at = now end
o.updated_at = now
redis.call('SET', KEYS[1], cmsgpack.pack(o))
return 1
`)

// renewLeaseScript extends the lease expiry while the caller still owns
// the entity. Works for jobs and occurrences, which share the lease
// field names. KEYS[1] = entity key. ARGV = owner, now (ms), expiry (ms).
var renewLeaseScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local e = cmsgpack.unpack(raw)
local now = tonumber(ARGV[2])
if e.status ~= 'in_progress' then return 0 end
if e.lease_owner == '' or e.lease_owner ~= ARGV[1] then return 0 end
if e.lease_expires_at <= now then return 0 end
e.lease_expires_at = tonumber(ARGV[3])
e.updated_at = now
redis.call('SET', KEYS[1], cmsgpack.pack(e))
return 1
`)

// ownedUpdateScript replaces the entity blob only while the caller
// still holds an unexpired lease on the stored copy, and maintains the
// due index. KEYS[1] = entity key, KEYS[2] = due sorted set.
// ARGV = owner, now (ms), new blob, due score (ms), terminal flag, id.
var ownedUpdateScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local cur = cmsgpack.unpack(raw)
local now = tonumber(ARGV[2])
if cur.lease_owner == '' or cur.lease_owner ~= ARGV[1] then return 0 end
if cur.lease_expires_at <= now then return 0 end
redis.call('SET', KEYS[1], ARGV[3])
if ARGV[5] == '1' then
	redis.call('ZREM', KEYS[2], ARGV[6])
else
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[6])
end
return 1
`)
