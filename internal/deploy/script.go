package deploy

import (
	"fmt"
	"path"
	"strings"

	"github.com/suPer8Hu/specforge/internal/vfs"
)

// shellQuote wraps s in single quotes for bash.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// heredocDelimiter returns EOF unless some line of content is exactly EOF,
// in which case it picks the first free EOF_n.
func heredocDelimiter(content string) string {
	lines := make(map[string]struct{})
	for _, l := range strings.Split(content, "\n") {
		lines[strings.TrimSuffix(l, "\r")] = struct{}{}
	}
	delim := "EOF"
	for n := 1; ; n++ {
		if _, clash := lines[delim]; !clash {
			return delim
		}
		delim = fmt.Sprintf("EOF_%d", n)
	}
}

func isEnvFile(p string) bool {
	return strings.HasPrefix(path.Base(p), ".env")
}

// uploadScript builds one bash script that recreates every file under
// codePrefix inside appDir. It returns the script and the number of files.
func uploadScript(fs *vfs.VFS, o Options, publicURL string) (string, int) {
	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -e\n")
	fmt.Fprintf(&b, "mkdir -p %s\n", shellQuote(o.AppDir))

	dirs := make(map[string]bool)
	files := fs.ListUnder(o.CodePrefix)
	for _, p := range files {
		content, _ := fs.Read(p)
		rel := strings.TrimPrefix(p, o.CodePrefix)
		target := path.Join(o.AppDir, rel)

		if dir := path.Dir(target); dir != o.AppDir && !dirs[dir] {
			dirs[dir] = true
			fmt.Fprintf(&b, "mkdir -p %s\n", shellQuote(dir))
		}
		if isEnvFile(rel) && o.PlaceholderBackendURL != "" {
			content = strings.ReplaceAll(content, o.PlaceholderBackendURL, strings.TrimRight(publicURL, "/")+"/api")
		}
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		delim := heredocDelimiter(content)
		fmt.Fprintf(&b, "cat > %s << '%s'\n%s%s\n", shellQuote(target), delim, content, delim)
	}
	return b.String(), len(files)
}

// nginxSite proxies the public port to the dev server and /api/ to the
// backend, with websocket upgrades and long timeouts for dev tooling.
func nginxSite(o Options) string {
	return fmt.Sprintf(`map $http_upgrade $connection_upgrade {
    default upgrade;
    ''      close;
}

server {
    listen %[1]d default_server;
    listen [::]:%[1]d default_server;

    proxy_http_version 1.1;
    proxy_set_header Upgrade $http_upgrade;
    proxy_set_header Connection $connection_upgrade;
    proxy_set_header Host $host;
    proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    proxy_set_header X-Forwarded-Proto $scheme;
    proxy_read_timeout 3600s;
    proxy_send_timeout 3600s;

    location /api/ {
        proxy_pass http://127.0.0.1:%[3]d/;
    }

    location / {
        proxy_pass http://127.0.0.1:%[2]d;
    }
}
`, o.PublicPort, o.DevPort, o.BackendPort)
}

func nginxScript(o Options) string {
	site := nginxSite(o)
	delim := heredocDelimiter(site)
	return fmt.Sprintf(`set -e
rm -f /etc/nginx/sites-enabled/default
cat > /etc/nginx/sites-available/app << '%[1]s'
%[2]s%[1]s
ln -sf /etc/nginx/sites-available/app /etc/nginx/sites-enabled/app
nginx -t
nginx -s reload 2>/dev/null || nginx
`, delim, site)
}
