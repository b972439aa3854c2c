package store

// Session is the locally persisted sign-in record. At most one row
// exists; it survives process restarts and is cleared on sign-out.
type Session struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	SignedInAt  int64
}

// Contact is a cached contact row, scoped to the owning user.
type Contact struct {
	OwnerUID    string
	ContactUID  string
	Email       string
	DisplayName string
	PhotoURL    string
	IsOnline    bool
	LastSeen    int64
}

// Message is a cached message row. Timestamp is epoch milliseconds.
type Message struct {
	ChatID     string
	MsgID      string
	SenderUID  string
	SenderName string
	Body       string
	Timestamp  int64
}
