package config

import "strings"

type keySpec struct {
	key     string
	env     string
	secret  bool
	extract func(cfg Config) any
}

func env(name string) string { return Prefix + "_" + name }

var specs = []keySpec{
	{key: "log.level", env: env("LOG_LEVEL"), extract: func(c Config) any { return c.Log.Level }},
	{key: "log.format", env: env("LOG_FORMAT"), extract: func(c Config) any { return c.Log.Format }},
	{key: "store.driver", env: env("STORE_DRIVER"), extract: func(c Config) any { return c.Store.Driver }},
	{key: "store.sqlite_path", env: env("STORE_SQLITE_PATH"), extract: func(c Config) any { return c.Store.SQLitePath }},
	{key: "store.postgres_dsn", env: env("STORE_POSTGRES_DSN"), secret: true, extract: func(c Config) any { return c.Store.PostgresDSN }},
	{key: "dynamodb.region", env: env("DYNAMODB_REGION"), extract: func(c Config) any { return c.DynamoDB.Region }},
	{key: "dynamodb.endpoint", env: env("DYNAMODB_ENDPOINT"), extract: func(c Config) any { return c.DynamoDB.Endpoint }},
	{key: "dynamodb.table_conversations", env: env("DYNAMODB_TABLE_CONVERSATIONS"), extract: func(c Config) any { return c.DynamoDB.TableConversations }},
	{key: "dynamodb.table_threads", env: env("DYNAMODB_TABLE_THREADS"), extract: func(c Config) any { return c.DynamoDB.TableThreads }},
	{key: "dynamodb.table_invocations", env: env("DYNAMODB_TABLE_INVOCATIONS"), extract: func(c Config) any { return c.DynamoDB.TableInvocations }},
	{key: "dynamodb.table_users", env: env("DYNAMODB_TABLE_USERS"), extract: func(c Config) any { return c.DynamoDB.TableUsers }},
	{key: "dynamodb.table_rate_limit_aws", env: env("DYNAMODB_TABLE_RATE_LIMIT_AWS"), extract: func(c Config) any { return c.DynamoDB.TableRateLimitAWS }},
	{key: "dynamodb.table_rate_limit_ai", env: env("DYNAMODB_TABLE_RATE_LIMIT_AI"), extract: func(c Config) any { return c.DynamoDB.TableRateLimitAI }},
	{key: "llm.api_key", env: env("LLM_API_KEY"), secret: true, extract: func(c Config) any { return c.LLM.APIKey }},
	{key: "llm.base_url", env: env("LLM_BASE_URL"), extract: func(c Config) any { return c.LLM.BaseURL }},
	{key: "llm.model", env: env("LLM_MODEL"), extract: func(c Config) any { return c.LLM.Model }},
	{key: "llm.temperature", env: env("LLM_TEMPERATURE"), extract: func(c Config) any { return c.LLM.Temperature }},
	{key: "llm.max_tokens", env: env("LLM_MAX_TOKENS"), extract: func(c Config) any { return c.LLM.MaxTokens }},
	{key: "llm.stop", env: env("LLM_STOP"), extract: func(c Config) any { return strings.Join(c.LLM.Stop, ",") }},
	{key: "llm.timeout", env: env("LLM_TIMEOUT"), extract: func(c Config) any { return c.LLM.Timeout }},
	{key: "llm.prompt", env: env("LLM_PROMPT"), extract: func(c Config) any { return c.LLM.Prompt }},
	{key: "llm.prompt_file", env: env("LLM_PROMPT_FILE"), extract: func(c Config) any { return c.LLM.PromptFile }},
	{key: "llm.reject_empty", env: env("LLM_REJECT_EMPTY"), extract: func(c Config) any { return c.LLM.RejectEmpty }},
	{key: "rate_limit.enforce", env: env("RATE_LIMIT_ENFORCE"), extract: func(c Config) any { return c.RateLimit.Enforce }},
	{key: "rate_limit.window", env: env("RATE_LIMIT_WINDOW"), extract: func(c Config) any { return c.RateLimit.Window }},
	{key: "rate_limit.on_lookup_failure", env: env("RATE_LIMIT_ON_LOOKUP_FAILURE"), extract: func(c Config) any { return c.RateLimit.OnLookupFailure }},
	{key: "rate_limit.on_check_failure", env: env("RATE_LIMIT_ON_CHECK_FAILURE"), extract: func(c Config) any { return c.RateLimit.OnCheckFailure }},
	{key: "threads.persist_attributes", env: env("THREADS_PERSIST_ATTRIBUTES"), extract: func(c Config) any { return c.Threads.PersistAttributes }},
	{key: "server.addr", env: env("SERVER_ADDR"), extract: func(c Config) any { return c.Server.Addr }},
	{key: "server.max_conns", env: env("SERVER_MAX_CONNS"), extract: func(c Config) any { return c.Server.MaxConns }},
	{key: "server.read_timeout", env: env("SERVER_READ_TIMEOUT"), extract: func(c Config) any { return c.Server.ReadTimeout }},
	{key: "server.write_timeout", env: env("SERVER_WRITE_TIMEOUT"), extract: func(c Config) any { return c.Server.WriteTimeout }},
}
