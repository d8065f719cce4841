// Package config loads kbchat configuration.
//
// # Overview
//
// Configuration is read from a YAML file, or TOML when the file name ends in
// .toml. ${VAR} references are expanded from the environment before parsing,
// and keys missing from the file keep their Default values.
//
// # Location
//
// Priority: KBCHAT_CONFIG > $XDG_CONFIG_HOME/kbchat/config.yaml >
// ~/.config/kbchat/config.yaml. LoadDefault returns Default when the file is
// absent, unless KBCHAT_CONFIG named it explicitly.
//
// # Example
//
//	server:
//	  base_url: "http://localhost:8000"
//	  token: "${KBCHAT_TOKEN}"
//	  request_timeout: "30s"      # plain request/response calls only
//	chat:
//	  rag_enabled: true
//	uploads:
//	  failure_grace: "3s"
//	transcript:
//	  enabled: true
//	  path: "~/.local/share/kbchat/transcript.db"
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  format: "text"               # text or json
//
// # Token
//
// Config.Token resolves the bearer token: server.token, then KBCHAT_TOKEN,
// then the file <config dir>/kbchat/token.
package config
