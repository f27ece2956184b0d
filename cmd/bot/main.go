// Command bot drives a running server: it can replay a layout file over the
// control socket and then watch the viewer socket, clicking trains at random.
//
// A layout file holds one control packet per line with the newline after the
// packet type written as a space:
//
//	node_new 0;0 random
//	track_new 1 2 #ff0000
//	train_new 1 0.5
package main

import (
	"bufio"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"trainyard.dev/internal/protocol"
	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/model"
)

func main() {
	var (
		base       = flag.String("url", "ws://localhost:8080", "server base url")
		layout     = flag.String("layout", "", "control packets to send before watching (optional)")
		clickEvery = flag.Duration("click_every", 5*time.Second, "click a random train this often (0 disables)")
		ctrlRatio  = flag.Float64("ctrl_ratio", 0, "fraction of clicks sent with ctrl held (removes the train)")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	root := strings.TrimRight(*base, "/")

	if *layout != "" {
		n, err := sendLayout(root+"/ws-ctrl", *layout, logger)
		if err != nil {
			logger.Fatalf("layout: %v", err)
		}
		logger.Printf("layout sent packets=%d", n)
	}

	conn, _, err := websocket.DefaultDialer.Dial(root+"/ws", nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	packets := make(chan string, 64)
	go func() {
		defer close(packets)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			packets <- string(msg)
		}
	}()

	var tick <-chan time.Time
	if *clickEvery > 0 {
		t := time.NewTicker(*clickEvery)
		defer t.Stop()
		tick = t.C
	}
	rng := rand.New(rand.NewSource(*seed))
	trains := map[uint32]struct{}{}

	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg, ok := <-packets:
			if !ok {
				return
			}
			kind, id, ok := packetTrain(msg)
			if !ok {
				continue
			}
			switch kind {
			case "train":
				if _, seen := trains[id]; !seen {
					logger.Printf("train seen id=%d", id)
				}
				trains[id] = struct{}{}
			case "remove":
				delete(trains, id)
				logger.Printf("train removed id=%d", id)
			}
		case <-tick:
			if len(trains) == 0 {
				continue
			}
			ids := make([]uint32, 0, len(trains))
			for id := range trains {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			click := engine.Click{Target: engine.TargetTrain, ID: ids[rng.Intn(len(ids))]}
			click.Mods = model.ClickModifier{Ctrl: rng.Float64() < *ctrlRatio}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.EncodeClick(click))); err != nil {
				logger.Printf("write: %v", err)
				return
			}
		}
	}
}

// packetTrain pulls the train id out of train and remove packets.
func packetTrain(msg string) (string, uint32, bool) {
	kind, body, ok := strings.Cut(msg, "\n")
	if !ok || (kind != "train" && kind != "remove") {
		return "", 0, false
	}
	first, _, _ := strings.Cut(body, " ")
	id, err := strconv.ParseUint(first, 10, 32)
	if err != nil {
		return "", 0, false
	}
	return kind, uint32(id), true
}

// sendLayout validates every line locally, then writes them to the control
// socket. Error packets the server sends back are logged.
func sendLayout(url, path string, logger *log.Logger) (int, error) {
	packets, err := readLayout(path)
	if err != nil {
		return 0, err
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			logger.Printf("server: %s", strings.ReplaceAll(string(msg), "\n", " "))
		}
	}()

	for _, p := range packets {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			return 0, err
		}
	}
	// Give the engine a moment to answer before hanging up.
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return len(packets), nil
}

func readLayout(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		kind, body, _ := strings.Cut(text, " ")
		packet := kind + "\n" + body
		if _, err := protocol.ParseControl(packet); err != nil {
			return nil, lineError{line: line, err: err}
		}
		out = append(out, packet)
	}
	return out, sc.Err()
}

type lineError struct {
	line int
	err  error
}

func (e lineError) Error() string { return "line " + strconv.Itoa(e.line) + ": " + e.err.Error() }
func (e lineError) Unwrap() error { return e.err }
