// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

// Connection is a handle to a logical flow over a [Link].
type Connection struct {
	ID          string
	LinkID      string
	SendTimeout int64 // nanoseconds; zero means no explicit timeout
}

// Link is a handle to one covert pathway supplied by the Transport.
// Created by create_link/load_link_address/create_link_from_address and
// destroyed by destroy_link or a transport-reported LINK_DESTROYED; on
// destruction every connection becomes closed, every fragment bound to
// one of the link's packages resets to UNENCODED, and any in-flight
// encoding for the link is orphaned.
type Link struct {
	ID          string
	ProducerID  ProducerID
	Connections map[string]*Connection
	connOrder   []string // insertion order, for deterministic fanout
	destroyed   bool
}

// newLink constructs a [Link] with a fresh random producer id.
func newLink(id string) *Link {
	return &Link{
		ID:          id,
		ProducerID:  NewProducerID(),
		Connections: make(map[string]*Connection),
	}
}

// addConnection registers a newly-opened connection on the link.
func (l *Link) addConnection(c *Connection) {
	l.Connections[c.ID] = c
	l.connOrder = append(l.connOrder, c.ID)
}

// removeConnection forgets a closed connection.
func (l *Link) removeConnection(id string) {
	delete(l.Connections, id)
	for i, cid := range l.connOrder {
		if cid == id {
			l.connOrder = append(l.connOrder[:i], l.connOrder[i+1:]...)
			break
		}
	}
}

// connectionIDs returns the ids of every open connection on the link, in
// the order they were opened. Used to populate receive_enc_pkg's
// connection_ids argument.
func (l *Link) connectionIDs() []string {
	ids := make([]string, len(l.connOrder))
	copy(ids, l.connOrder)
	return ids
}
