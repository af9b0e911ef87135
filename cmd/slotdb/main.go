// slotdb maps entity indexes onto one document collection.
//
// # Installation
//
//	go install github.com/acksell/slotdb/cmd/slotdb@latest
//
// # Commands
//
//	slotdb encode   Print the index keys of an item
//	slotdb decode   Split a key into its parts
//	slotdb explain  Show how a filter compiles
//	slotdb put      Store an item
//	slotdb get      Read an item by identity
//	slotdb find     List items matching a filter
//	slotdb update   Update the first item matching a filter
//	slotdb delete   Delete the first item matching a filter
//	slotdb serve    Serve the HTTP API
//
// Entities and the store are declared in slotdb.yaml, searched for from the
// working directory upwards:
//
//	store:
//	  driver: badger
//	  path: ./data
//	entities:
//	  - entity: Account
//	    indexes:
//	      - name: kind
//	        field: _id
//	        pk: [accountId]
//	        sk: [username]
//
// The memory driver keeps nothing between invocations; use badger or
// dynamodb for put followed by find.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "slotdb:", err)
		os.Exit(1)
	}
}
