package ring

import "fmt"

// Node is a ring member. Identity is the ID; Down marks a member that keeps
// its position but should not serve requests.
type Node struct {
	ID   string `json:"id"`
	Down bool   `json:"down"`
}

func (n Node) String() string {
	return fmt.Sprintf("%s %t", n.ID, n.Down)
}
