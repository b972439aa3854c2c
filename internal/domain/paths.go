package domain

// Remote tree layout. These paths are the wire contract with the
// realtime database; every component addresses the tree through them.

const (
	UsersRoot       = "users"
	ChatsRoot       = "chats"
	InvitationsRoot = "invitations"
)

func UserPath(uid string) string {
	return UsersRoot + "/" + uid
}

func ContactsPath(ownerUID string) string {
	return UserPath(ownerUID) + "/contacts"
}

func ContactPath(ownerUID, contactUID string) string {
	return ContactsPath(ownerUID) + "/" + contactUID
}

func ChatPath(chatID string) string {
	return ChatsRoot + "/" + chatID
}

func MessagesPath(chatID string) string {
	return ChatPath(chatID) + "/messages"
}

func TypingPath(chatID string) string {
	return ChatPath(chatID) + "/typing"
}

func TypingMarkPath(chatID, uid string) string {
	return TypingPath(chatID) + "/" + uid
}

func InvitationPath(id string) string {
	return InvitationsRoot + "/" + id
}
