package redis

// Server-side scripts implementing the three atomic scheduling operations
// plus atomic cancellation. Key names are spelled out literally here; keep
// keys.go in sync when changing them.

// storeReservationScript records a reservation and enqueues it onto every
// candidate resource queue in one transaction.
// ARGV: reservation_id, metadata, laboratory, priority, user_identifier,
// resource_1..resource_n. Returns the initial status.
const storeReservationScript = `
local reservation_id = ARGV[1]
local metadata = ARGV[2]
local laboratory = ARGV[3]
local priority = ARGV[4]
local user_identifier = ARGV[5]

local seq = redis.call('INCR', 'lde:reservations:counter')

local status = 'pending'
for i = 6, #ARGV do
    if redis.call('EXISTS', 'lde:resources:' .. ARGV[i] .. ':assigned') == 1 then
        status = 'queued'
        break
    end
end

local base = 'lde:reservations:' .. reservation_id
redis.call('HSET', base,
    'status', status,
    'metadata', metadata,
    'laboratory', laboratory,
    'priority', priority,
    'seq', seq)
redis.call('SADD', 'lde:users:' .. user_identifier .. ':reservations', reservation_id)

for i = 6, #ARGV do
    redis.call('RPUSH', 'lde:resources:' .. ARGV[i] .. ':queue', reservation_id)
    redis.call('PUBLISH', 'lde:resources:' .. ARGV[i] .. ':channel', status)
end

return status
`

// assignReservationScript atomically claims the most eligible reservation of
// a resource queue: lowest priority number first, then submission order.
// Entries cancelled before being claimed are finished in place without ever
// writing an assignment fact; entries that are no longer claimable are
// dropped. ARGV: resource_id. Returns the claimed reservation id or false.
const assignReservationScript = `
local resource_id = ARGV[1]
local assigned_key = 'lde:resources:' .. resource_id .. ':assigned'
if redis.call('EXISTS', assigned_key) == 1 then
    return false
end

local queue_key = 'lde:resources:' .. resource_id .. ':queue'
local entries = redis.call('LRANGE', queue_key, 0, -1)

local best_id = false
local best_priority = 0
local best_seq = 0
for i = 1, #entries do
    local reservation_id = entries[i]
    local base = 'lde:reservations:' .. reservation_id
    local status = redis.call('HGET', base, 'status')
    if status == 'cancelling' and not redis.call('HGET', base, 'resource') then
        redis.call('LREM', queue_key, 0, reservation_id)
        redis.call('HSET', base, 'status', 'finished')
        redis.call('PUBLISH', base .. ':channel', 'finished')
    elseif status == 'pending' or status == 'queued' then
        local priority = tonumber(redis.call('HGET', base, 'priority')) or 5
        local seq = tonumber(redis.call('HGET', base, 'seq')) or 0
        if (not best_id) or priority < best_priority or (priority == best_priority and seq < best_seq) then
            best_id = reservation_id
            best_priority = priority
            best_seq = seq
        end
    else
        redis.call('LREM', queue_key, 0, reservation_id)
    end
end

if not best_id then
    return false
end

redis.call('LREM', queue_key, 0, best_id)
redis.call('SET', assigned_key, best_id)
local base = 'lde:reservations:' .. best_id
redis.call('HSET', base, 'status', 'initializing', 'resource', resource_id)
redis.call('PUBLISH', base .. ':channel', 'initializing')
return best_id
`

// reservationStatusScript projects the current state of a reservation,
// computing the queue position among still-claimable candidates while the
// reservation is queued. ARGV: reservation_id.
// Returns {status, session_id, position, url} or false when unknown.
const reservationStatusScript = `
local reservation_id = ARGV[1]
local base = 'lde:reservations:' .. reservation_id
local status = redis.call('HGET', base, 'status')
if not status then
    return false
end
local session_id = redis.call('HGET', base, 'session_id') or ''
local url = redis.call('HGET', base, 'url') or ''

local position = 0
if status == 'pending' or status == 'queued' then
    local priority = tonumber(redis.call('HGET', base, 'priority')) or 5
    local seq = tonumber(redis.call('HGET', base, 'seq')) or 0
    local metadata = cjson.decode(redis.call('HGET', base, 'metadata'))
    local best = -1
    for _, resource_id in ipairs(metadata['resources']) do
        local entries = redis.call('LRANGE', 'lde:resources:' .. resource_id .. ':queue', 0, -1)
        local found = false
        local ahead = 0
        for i = 1, #entries do
            local other_id = entries[i]
            if other_id == reservation_id then
                found = true
            else
                local other_base = 'lde:reservations:' .. other_id
                local other_status = redis.call('HGET', other_base, 'status')
                if other_status == 'pending' or other_status == 'queued' then
                    local other_priority = tonumber(redis.call('HGET', other_base, 'priority')) or 5
                    local other_seq = tonumber(redis.call('HGET', other_base, 'seq')) or 0
                    if other_priority < priority or (other_priority == priority and other_seq < seq) then
                        ahead = ahead + 1
                    end
                end
            end
        end
        if found and (best == -1 or ahead < best) then
            best = ahead
        end
    end
    if best >= 0 then
        position = best
    end
end

return {status, session_id, position, url}
`

// cancelReservationScript flips a reservation to cancelling only when its
// current status still allows it, so a status never moves backwards.
// ARGV: reservation_id. Returns 1 when the cancel took effect, 0 when the
// reservation is past cancellation, -1 when it does not exist.
const cancelReservationScript = `
local base = 'lde:reservations:' .. ARGV[1]
local status = redis.call('HGET', base, 'status')
if not status then
    return -1
end
if status == 'pending' or status == 'queued' or status == 'initializing' or status == 'ready' then
    redis.call('HSET', base, 'status', 'cancelling')
    redis.call('PUBLISH', base .. ':channel', 'cancelling')
    return 1
end
return 0
`
