package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nodequota/ratelimit/cluster/ring"
)

var (
	ringPeers string
	ringKey   string
)

var ringCmd = &cobra.Command{
	Use:   "ring",
	Short: "Print which node a key would be assigned to on a static peer ring",
	Run: func(cmd *cobra.Command, args []string) {
		runRing()
	},
}

func init() {
	ringCmd.Flags().StringVar(&ringPeers, "peers", "", "comma-separated node IDs forming the ring")
	ringCmd.Flags().StringVar(&ringKey, "key", "", "the ring key to resolve (namespace_id\\x00identifier)")
}

func runRing() {
	var members []string
	for _, p := range strings.Split(ringPeers, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			members = append(members, p)
		}
	}
	if len(members) == 0 {
		fmt.Println("no peers supplied; pass --peers node-a,node-b,node-c")
		return
	}

	r := ring.Build(members, ring.DefaultVirtualNodes)
	owner, ok := r.Owner(ringKey)
	if !ok {
		fmt.Println("ring is empty")
		return
	}
	fmt.Printf("key %q -> owner %q (ring size %d)\n", ringKey, owner, r.Size())
}
