package outbox

const levelUpSchema = `{
  "type": "object",
  "title": "LevelUp",
  "properties": {
    "account_id": {"type": "string"},
    "previous_level": {"type": "integer"},
    "level": {"type": "integer"},
    "rank": {"type": "string", "enum": ["E", "D", "C", "B", "A", "S", "SS"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["account_id", "previous_level", "level", "rank", "occurred_at"],
  "additionalProperties": false
}`

const achievementUnlockedSchema = `{
  "type": "object",
  "title": "AchievementUnlocked",
  "properties": {
    "account_id": {"type": "string"},
    "achievement_key": {"type": "string"},
    "is_title": {"type": "boolean"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["account_id", "achievement_key", "is_title", "occurred_at"],
  "additionalProperties": false
}`

const summaryFinalizedSchema = `{
  "type": "object",
  "title": "SummaryFinalized",
  "properties": {
    "account_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "calories_in": {"type": "number"},
    "calories_out": {"type": "number"},
    "final_balance": {"type": "number"},
    "reprocessed": {"type": "boolean"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["account_id", "date", "calories_in", "calories_out", "final_balance", "reprocessed", "occurred_at"],
  "additionalProperties": false
}`
