package backend

// Message is one prompt sent to a backend.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response is the text a backend produced for a Message.
type Response struct {
	Content string
	Error   string
}

// Config selects and configures a backend.
type Config struct {
	Type         string   // "claude" or "command"
	Command      string   // Binary to run; defaults to the type name for "claude"
	Args         []string // Extra arguments appended to every invocation
	WorkDir      string
	Model        string
	SystemPrompt string
}
