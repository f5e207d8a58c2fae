package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- TASK TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS task SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON task TYPE string
        ASSERT $value IN ["pending", "processing", "succeeded", "failed", "completed", "cancelled", "paused", "partially_succeeded"];
    DEFINE FIELD IF NOT EXISTS operations ON task TYPE array<string>;
    -- NONE means the scope was discovered when the task was created
    DEFINE FIELD IF NOT EXISTS question_ids ON task TYPE option<array<int>>;
    DEFINE FIELD IF NOT EXISTS options ON task TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS total_questions ON task TYPE option<int> READONLY;
    DEFINE FIELD IF NOT EXISTS processed_count ON task TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS succeeded_count ON task TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failed_count ON task TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS current_batch ON task TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS details ON task TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_by ON task TYPE string DEFAULT "system";
    DEFINE FIELD IF NOT EXISTS created_at ON task TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON task TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON task TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS updated_at ON task TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS task_status ON task FIELDS status;
    DEFINE INDEX IF NOT EXISTS task_created ON task FIELDS created_at;

    -- ==========================================================================
    -- TASK ITEM TABLE
    -- ==========================================================================
    -- Items are never deleted; analytics read them as the audit trail.
    DEFINE TABLE IF NOT EXISTS task_item SCHEMAFULL
        PERMISSIONS FOR select, create, update FULL, FOR delete NONE;
    DEFINE FIELD IF NOT EXISTS task_id ON task_item TYPE string;
    DEFINE FIELD IF NOT EXISTS question_id ON task_item TYPE int;
    DEFINE FIELD IF NOT EXISTS operation ON task_item TYPE string;
    DEFINE FIELD IF NOT EXISTS target_lang ON task_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS status ON task_item TYPE string
        ASSERT $value IN ["pending", "processing", "succeeded", "failed", "partially_succeeded"];
    DEFINE FIELD IF NOT EXISTS error_code ON task_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error_message ON task_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error_detail ON task_item TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON task_item TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON task_item TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS finished_at ON task_item TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS task_item_task ON task_item FIELDS task_id;
    DEFINE INDEX IF NOT EXISTS task_item_status ON task_item FIELDS status;
    DEFINE INDEX IF NOT EXISTS task_item_created ON task_item FIELDS created_at;
    DEFINE INDEX IF NOT EXISTS task_item_finished ON task_item FIELDS finished_at;

    -- ==========================================================================
    -- QUESTION TABLES (owned by the content subsystem)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS question SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS content_hash ON question TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON question TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS options ON question TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS explanation ON question TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS correct_answer ON question TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS question_type ON question TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS category ON question TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS stage_tag ON question TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS topic_tags ON question TYPE option<array<string>>;
    -- Compare-and-swap counter for guarded writes
    DEFINE FIELD IF NOT EXISTS version ON question TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS updated_at ON question TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS question_hash ON question FIELDS content_hash;

    -- Record ids are [content_hash, locale]
    DEFINE TABLE IF NOT EXISTS question_translation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS content_hash ON question_translation TYPE string;
    DEFINE FIELD IF NOT EXISTS locale ON question_translation TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON question_translation TYPE string;
    DEFINE FIELD IF NOT EXISTS options ON question_translation TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS explanation ON question_translation TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS source ON question_translation TYPE string DEFAULT "ai";
    DEFINE FIELD IF NOT EXISTS updated_at ON question_translation TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- POLISH REVIEW TABLES
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS polish_review SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS content_hash ON polish_review TYPE string;
    DEFINE FIELD IF NOT EXISTS locale ON polish_review TYPE string;
    DEFINE FIELD IF NOT EXISTS task_id ON polish_review TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS proposed_content ON polish_review TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS proposed_options ON polish_review TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS proposed_explanation ON polish_review TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS status ON polish_review TYPE string DEFAULT "pending"
        ASSERT $value IN ["pending", "approved", "rejected"];
    DEFINE FIELD IF NOT EXISTS notes ON polish_review TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS reviewed_by ON polish_review TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS reviewed_at ON polish_review TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created_at ON polish_review TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS polish_review_status ON polish_review FIELDS status;
    DEFINE INDEX IF NOT EXISTS polish_review_hash ON polish_review FIELDS content_hash;

    -- Append-only; the record id equals the approved review's id.
    DEFINE TABLE IF NOT EXISTS polish_history SCHEMAFULL
        PERMISSIONS FOR select, create FULL, FOR update, delete NONE;
    DEFINE FIELD IF NOT EXISTS review_id ON polish_history TYPE string;
    DEFINE FIELD IF NOT EXISTS content_hash ON polish_history TYPE string;
    DEFINE FIELD IF NOT EXISTS locale ON polish_history TYPE string;
    DEFINE FIELD IF NOT EXISTS old_content ON polish_history TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS new_content ON polish_history TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS old_options ON polish_history TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS new_options ON polish_history TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS old_explanation ON polish_history TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS new_explanation ON polish_history TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS approved_by ON polish_history TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON polish_history TYPE datetime DEFAULT time::now() READONLY;

    DEFINE INDEX IF NOT EXISTS polish_history_hash ON polish_history FIELDS content_hash;
`
