package vite

// The scripts run under `node --input-type=module -e` with the project as the
// working directory, so the bare "vite" specifier resolves to the project's
// own installation. Settings arrive through the DEVBRIDGE_* environment.

const resolveScript = `
const vite = await import("vite");
const config = await vite.resolveConfig(
  { configFile: process.env.DEVBRIDGE_CONFIG_FILE || undefined },
  "build",
);
console.log(JSON.stringify({
  root: config.root,
  base: config.base,
  outDir: config.build.outDir,
}));
`

const buildScript = `
const vite = await import("vite");
await vite.build({ configFile: process.env.DEVBRIDGE_CONFIG_FILE || undefined });
`

// devScript runs Vite in middleware mode behind a private HTTP server. Its
// hot-reload socket is attached to that server and the client is told to
// connect to a placeholder port the host rewrites. The process exits when
// its stdin closes.
const devScript = `
import http from "node:http";

const vite = await import("vite");
const httpServer = http.createServer();
const server = await vite.createServer({
  configFile: process.env.DEVBRIDGE_CONFIG_FILE || undefined,
  root: process.env.DEVBRIDGE_ROOT || undefined,
  base: process.env.DEVBRIDGE_BASE || undefined,
  clearScreen: false,
  appType: "custom",
  server: {
    middlewareMode: true,
    hmr: { server: httpServer, clientPort: process.env.DEVBRIDGE_HMR_PORT },
  },
});

httpServer.on("request", (req, res) => {
  const url = new URL(req.url, "http://127.0.0.1");
  if (req.method === "POST" && url.pathname === "/__devbridge/transform") {
    let body = "";
    req.setEncoding("utf8");
    req.on("data", (chunk) => { body += chunk; });
    req.on("end", async () => {
      try {
        const html = await server.transformIndexHtml(url.searchParams.get("url") || "/", body);
        res.writeHead(200, { "Content-Type": "text/html; charset=utf-8" });
        res.end(html);
      } catch (err) {
        res.writeHead(500, { "Content-Type": "text/plain; charset=utf-8" });
        res.end(String((err && err.stack) || err));
      }
    });
    return;
  }
  server.middlewares(req, res, () => {
    res.statusCode = 404;
    res.end();
  });
});

httpServer.listen(0, "127.0.0.1", () => {
  console.log(JSON.stringify({ ready: true, port: httpServer.address().port }));
});

process.stdin.on("end", async () => {
  await server.close();
  httpServer.close();
  process.exit(0);
});
process.stdin.resume();
`
