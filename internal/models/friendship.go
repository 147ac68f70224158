package models

// FriendshipStatus is the state of a friendship row. A pending row is
// directed from requester (user_id) to target (friend_id); an accepted
// row is symmetric.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
)
