package types

// RoomId is assigned from a strictly increasing counter and never reused.
type RoomId int64
