package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"

	"gopper/host/mcu"
	"gopper/protocol"
)

var (
	device     = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud       = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
	scriptPath = flag.String("script", "", "Run commands from a file instead of the interactive prompt")
)

func main() {
	flag.Parse()

	fmt.Println("Gopper Host - Klipper Protocol Host Implementation")
	fmt.Println("===================================================\n")

	// Create MCU instance
	mcuConn := mcu.NewMCU()

	// Connect to MCU
	fmt.Printf("Connecting to MCU on %s...\n", *device)
	if err := mcuConn.Connect(*device); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mcuConn.Close()

	fmt.Println("Connected successfully!")

	// Retrieve dictionary
	if err := mcuConn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}

	// Print dictionary summary
	mcuConn.PrintDictionary()

	if *scriptPath != "" {
		if err := runScript(mcuConn, *scriptPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Interactive command loop
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(parts) == 0 {
			continue
		}

		if !dispatchCommand(mcuConn, parts[0], parts[1:]) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// runScript reads commands from path, one console line per line
// (shlex-tokenized, '#' starts a comment, blank lines skipped), and
// dispatches each in order. It stops at the first command error.
func runScript(mcuConn *mcu.MCU, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts, err := shlex.Split(line)
		if err != nil {
			return fmt.Errorf("script line %d: %w", lineNo, err)
		}
		if len(parts) == 0 {
			continue
		}

		fmt.Printf("script:%d> %s\n", lineNo, line)
		if !dispatchCommand(mcuConn, parts[0], parts[1:]) {
			return nil
		}
	}
	return scanner.Err()
}

// dispatchCommand runs one console command. It returns false when the
// caller (interactive loop or script runner) should stop processing
// further commands.
func dispatchCommand(mcuConn *mcu.MCU, cmd string, args []string) bool {
	switch cmd {
	case "quit", "exit", "q":
		fmt.Println("Goodbye!")
		return false

	case "help", "?":
		printHelp()

	case "dict":
		mcuConn.PrintDictionary()

	case "raw":
		raw := mcuConn.GetDictionaryRaw()
		fmt.Printf("Raw dictionary data (%d bytes):\n%s\n", len(raw), string(raw))

	case "get_uptime":
		if err := sendGetUptime(mcuConn); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

	case "get_clock":
		if err := sendGetClock(mcuConn); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

	case "get_config":
		if err := sendGetConfig(mcuConn); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

	default:
		fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", cmd)
	}
	return true
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help           - Show this help message")
	fmt.Println("  dict           - Print dictionary summary")
	fmt.Println("  raw            - Print raw dictionary data")
	fmt.Println("  get_uptime     - Get MCU uptime")
	fmt.Println("  get_clock      - Get MCU clock")
	fmt.Println("  get_config     - Get MCU configuration")
	fmt.Println("  quit/exit/q    - Exit the program")
	fmt.Println()
}

func sendGetUptime(mcuConn *mcu.MCU) error {
	fmt.Println("Sending get_uptime command...")

	// get_uptime has no arguments, format: ""
	if err := mcuConn.SendCommand("get_uptime", nil); err != nil {
		return fmt.Errorf("failed to send get_uptime: %w", err)
	}

	fmt.Println("Command sent successfully!")
	fmt.Println("(Note: Response handling not yet implemented - check MCU logs)")

	return nil
}

func sendGetClock(mcuConn *mcu.MCU) error {
	fmt.Println("Sending get_clock command...")

	// get_clock has no arguments, format: ""
	if err := mcuConn.SendCommand("get_clock", nil); err != nil {
		return fmt.Errorf("failed to send get_clock: %w", err)
	}

	fmt.Println("Command sent successfully!")
	fmt.Println("Waiting for response...")

	// Wait a bit for response to arrive
	time.Sleep(100 * time.Millisecond)

	// TODO: Implement proper response handling
	fmt.Println("(Note: Response handling not yet implemented - check MCU logs)")

	return nil
}

func sendGetConfig(mcuConn *mcu.MCU) error {
	fmt.Println("Sending get_config command...")

	// get_config has no arguments, format: ""
	if err := mcuConn.SendCommand("get_config", nil); err != nil {
		return fmt.Errorf("failed to send get_config: %w", err)
	}

	fmt.Println("Command sent successfully!")
	fmt.Println("(Note: Response handling not yet implemented - check MCU logs)")

	return nil
}

// DecodeResponse decodes a response message payload
func DecodeResponse(payload []byte) (cmdID uint16, data []byte, err error) {
	// Decode command ID
	cmdIDUint, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to decode command ID: %w", err)
	}

	return uint16(cmdIDUint), payload, nil
}
