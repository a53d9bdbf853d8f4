package mysql

// Column order here must match scanRestaurant.
const restaurantColumns = `
  id, place_id, name, address, lat, lng, is_verified, tags, dietary_tags,
  rating, user_ratings_total, price_level, phone, website, google_maps_uri,
  opening_hours, photos, food_photos, cached_reviews, real_menu, ai_summary,
  multilingual_summary, inbound_scores, vibe_tags,
  last_synced_at, sync_status, sync_error, sync_retry_count`

const selectRestaurantSQL = `SELECT` + restaurantColumns + `
FROM restaurants
WHERE id = ?`

// Row lock for the read-merge-write in ApplySync.
const selectRestaurantForUpdateSQL = selectRestaurantSQL + ` FOR UPDATE`

// is_verified, id and place_id are deliberately absent: the pipeline never writes them.
const updateEnrichmentSQL = `
UPDATE restaurants SET
  address              = ?,
  rating               = ?,
  user_ratings_total   = ?,
  price_level          = ?,
  phone                = ?,
  website              = ?,
  google_maps_uri      = ?,
  opening_hours        = ?,
  photos               = ?,
  food_photos          = ?,
  cached_reviews       = ?,
  real_menu            = ?,
  ai_summary           = ?,
  multilingual_summary = ?,
  inbound_scores       = ?,
  vibe_tags            = ?,
  dietary_tags         = ?,
  last_synced_at       = ?,
  sync_status          = ?,
  sync_error           = ?,
  sync_retry_count     = ?
WHERE id = ?
`

const updateSyncStateSQL = `
UPDATE restaurants
SET sync_status = ?, sync_retry_count = ?, sync_error = ?
WHERE id = ?
`

// Seeding path: a second insert for the same place keeps the first record.
const insertRestaurantSQL = `
INSERT INTO restaurants (id, place_id, name, address, lat, lng, tags, sync_status)
VALUES (?, ?, ?, ?, ?, ?, ?, 'idle')
ON DUPLICATE KEY UPDATE id = id
`

const selectIDByPlaceSQL = `SELECT id FROM restaurants WHERE place_id = ?`

// -----------------------------------------------------------------------------
// SWEEP QUERIES
// -----------------------------------------------------------------------------

// Never-synced rows first, then oldest.
const sweepOrder = `
ORDER BY last_synced_at IS NOT NULL, last_synced_at ASC, id ASC
LIMIT ?`

const sweepAllSQL = `SELECT` + restaurantColumns + `
FROM restaurants` + sweepOrder

const sweepStaleSQL = `SELECT` + restaurantColumns + `
FROM restaurants
WHERE last_synced_at IS NULL OR last_synced_at < ?` + sweepOrder

const sweepMissingPhotosSQL = `SELECT` + restaurantColumns + `
FROM restaurants
WHERE photos IS NULL OR JSON_LENGTH(photos) = 0` + sweepOrder

// Coarse prefilter; exact name matching happens in Go on the decoded menu.
const searchDishesSQL = `
SELECT id, name, real_menu
FROM restaurants
WHERE real_menu IS NOT NULL AND LOWER(CAST(real_menu AS CHAR)) LIKE ?
ORDER BY rating IS NULL, rating DESC, id ASC
LIMIT ?
`
