// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, session routes and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/livechat/internal/store"
)

// WebSocketHandler authenticates the request's session, upgrades the
// connection and registers the client with the hub. Requests without a
// valid session get 401 before any upgrade happens.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	userID, err := s.bridge.Authenticate(r)
	if err != nil {
		s.log.Info("Rejected WebSocket handshake", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, ClientOptions{
		UserID:         userID,
		Addr:           r.RemoteAddr,
		MaxMessageSize: s.cfg.MaxMessageSize,
		SendBufferSize: s.cfg.SendBufferSize,
		RateLimit:      s.cfg.RateLimit,
		Handler:        s,
		Log:            s.log,
	})

	// The hub launches the pump goroutines once the client is registered.
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "livechat server is running!")
}

// LogoutHandler destroys the caller's session and clears the cookie.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if cookie, err := r.Cookie(s.bridge.CookieName()); err == nil {
		if err := s.sessions.Destroy(r.Context(), cookie.Value); err != nil {
			s.log.Error("Failed to destroy session", "error", err)
			http.Error(w, "Logout failed", http.StatusInternalServerError)
			return
		}
	}

	http.SetCookie(w, s.sessions.ExpiredCookie())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type devLoginResponse struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// DevLoginHandler signs in as the user named by the "name" form value,
// creating it if needed. The id is derived from the name so repeated logins
// map to the same user. Only mounted when DEV_LOGIN is enabled.
func (s *Server) DevLoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	user := store.User{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("livechat:user:"+name)).String(),
		DisplayName: name,
		Avatar:      strings.TrimSpace(r.FormValue("avatar")),
	}
	if err := s.users.Upsert(r.Context(), user); err != nil {
		s.log.Error("Failed to upsert dev user", "name", name, "error", err)
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	token, expiresAt, err := s.sessions.Create(r.Context(), user.ID)
	if err != nil {
		s.log.Error("Failed to create session", "user_id", user.ID, "error", err)
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, s.sessions.Cookie(token, expiresAt))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(devLoginResponse{UserID: user.ID, DisplayName: user.DisplayName}); err != nil {
		s.log.Warn("Error writing login response", "error", err)
	}
}

// TestPageHandler serves an HTML page that speaks the event protocol, for
// manual testing in a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.log.Warn("Error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>livechat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #typing { color: #777; font-style: italic; min-height: 1.2em; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>livechat WebSocket Test</h1>

    <div>
        <input type="text" id="nameInput" placeholder="Display name (dev login)">
        <button onclick="devLogin()">Log in</button>
    </div>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="messages"></div>
    <div id="typing"></div>

    <script>
        let ws = null;
        const typers = {};
        const messagesDiv = document.getElementById('messages');
        const typingDiv = document.getElementById('typing');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function addChatMessage(m) {
            const when = new Date(m.timestamp).toLocaleTimeString();
            addLine('[' + when + '] ' + m.sender.displayName + ': ' + m.text, 'black');
        }

        function renderTyping() {
            const names = Object.values(typers);
            typingDiv.textContent = names.length ? names.join(', ') + ' typing...' : '';
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(type, payload) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: type, payload: payload }));
            }
        }

        function devLogin() {
            const body = new URLSearchParams({ name: document.getElementById('nameInput').value });
            fetch('/auth/dev-login', { method: 'POST', body: body })
                .then(r => r.ok ? r.json() : Promise.reject(r.status))
                .then(u => addLine('Logged in as ' + u.displayName))
                .catch(e => addLine('Login failed: ' + e, 'red'));
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                addLine('Connected to livechat server');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                switch (frame.type) {
                case 'previousMessages':
                    frame.payload.forEach(addChatMessage);
                    break;
                case 'newMessage':
                    addChatMessage(frame.payload);
                    break;
                case 'userTyping':
                    if (frame.payload.isTyping) {
                        typers[frame.payload.userId] = frame.payload.displayName;
                    } else {
                        delete typers[frame.payload.userId];
                    }
                    renderTyping();
                    break;
                case 'error':
                    addLine('Error: ' + frame.payload.message, 'red');
                    break;
                }
            };

            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error', 'red');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text) {
                send('sendMessage', { text: text });
                send('stopTyping', {});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('input', function() {
            if (messageInput.value) {
                send('typing', { text: messageInput.value });
            } else {
                send('stopTyping', {});
            }
        });

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
