package filter

/*
Here the Env used in the relay filters is defined.
Once this struct is fixed, it should not be changed, otherwise configured filters may not compile any more
(f.e. if properties are renamed etc.)
*/

type Env struct {
	Text    string // the chat text or prompt addition
	Nick    string // sender nick
	RoomId  int64
	Public  bool
	Members int
}
