// Command zwavehost is an interactive exerciser for the driver package,
// grounded on gopper-host main().go: a flag-configured
// connection, a one-time setup sequence, then a bufio.Scanner command
// loop that prints results rather than returning them to a caller.
package main

import ("bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"zwavehost/config"
	"zwavehost/ctlcmd"
	"zwavehost/driver"
	"zwavehost/manager"
	"zwavehost/notification"
	"zwavehost/transport"

	"github.com/spf13/pflag")

var (device = pflag.String("device", "/dev/ttyUSB0", "Z-Wave controller serial device path")
	baud = pflag.Int("baud", 115200, "Serial baud rate")
	configFile = pflag.String("config", "", "Path to a zwavehost config file (YAML)")
	userPath = pflag.String("user-path", ".", "Directory for the ozwcache snapshot")
	verbose = pflag.Bool("verbose", false, "Enable driver logging"))

func main() {
	pflag.Parse()

	fmt.Println("zwavehost - Z-Wave mesh network host driver")
	fmt.Println("============================================")

	opts, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
		os.Exit(1)
	}
	opts.UserPath = *userPath
	opts.Logging = *verbose

	mgr := manager.New()
	defer mgr.Close()

	fmt.Printf("Connecting to controller on %s...\n", *device)
	cfg := transport.DefaultConfig(*device)
	cfg.Baud = *baud

	d, err := mgr.AddDriver(cfg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start driver: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Connected. HomeId=0x%08x ControllerNodeId=%d\n", d.HomeID(), d.ControllerNodeID())

	handle := mgr.Watch(printNotification, nil)
	defer mgr.Unwatch(handle)

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "nodes":
			printNodes(d)

		case "add":
			runController(d, ctlcmd.AddDevice, 0, 0)

		case "remove":
			runController(d, ctlcmd.RemoveDevice, 0, 0)

		case "healnetwork":
			healNetwork(d)

		case "removefailed":
			withNodeArg(args, func(nodeID byte) { runController(d, ctlcmd.RemoveFailedNode, nodeID, 0) })

		case "hasfailed":
			withNodeArg(args, func(nodeID byte) { runController(d, ctlcmd.HasNodeFailed, nodeID, 0) })

		case "stats":
			printStats(d)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", cmd)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println(" help - Show this help message")
	fmt.Println(" nodes - List known nodes and their interview stage")
	fmt.Println(" add - Start() AddDevice controller command")
	fmt.Println(" remove - Start() RemoveDevice controller command")
	fmt.Println(" healnetwork - Request a neighbor update for every node")
	fmt.Println(" removefailed <id> - Remove a failed node")
	fmt.Println(" hasfailed <id> - Check whether a node is marked failed")
	fmt.Println(" stats - Print transaction engine counters")
	fmt.Println(" quit/exit/q - Exit the program")
	fmt.Println()
}

func withNodeArg(args []string, fn func(nodeID byte)) {
	if len(args) < 1 {
		fmt.Println("Error: missing node id argument")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > 232 {
		fmt.Printf("Error: invalid node id %q\n", args[0])
		return
	}
	fn(byte(n))
}

func runController(d *driver.Driver, kind ctlcmd.Kind, target byte, arg int) {
	cmd := ctlcmd.New(kind, target, arg)
	d.EnqueueController(cmd)
	fmt.Printf("Controller command %v queued, waiting for completion...\n", kind)
	state := <-cmd.Done
	fmt.Printf("Controller command %v finished: %v\n", kind, state)
}

func healNetwork(d *driver.Driver) {
	count := 0
	for id := byte(1); id <= 232; id++ {
		if _, ok := d.Node(id); !ok {
			continue
		}
		d.EnqueueController(ctlcmd.New(ctlcmd.RequestNodeNeighborUpdate, id, 0))
		count++
	}
	fmt.Printf("Queued neighbor update for %d node(s)\n", count)
}

func printNodes(d *driver.Driver) {
	found := false
	for id := byte(1); id <= 232; id++ {
		n, ok := d.Node(id)
		if !ok {
			continue
		}
		found = true
		fmt.Printf(" node %3d stage=%-16v listening=%-5v alive=%v\n", id, n.Stage(), n.IsListening(), n.Alive())
	}
	if !found {
		fmt.Println(" (no nodes queried yet)")
	}
}

func printStats(d *driver.Driver) {
	s := d.Stats()
	fmt.Printf(" dropped=%d timeouts=%d retries=%d\n", s.Dropped, s.Timeouts, s.Retries)
}

func printNotification(n notification.Notification, _ any) {
	fmt.Printf("[notify] kind=%v home=0x%08x node=%d\n", n.Kind, n.HomeID, n.NodeID)
}
