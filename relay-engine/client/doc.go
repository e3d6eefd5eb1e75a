// Package client is the user side of the relay chat protocol: it dials a
// node's inbound endpoint as a user link, answers the join request and
// surfaces chat and directory pushes as events.
package client
