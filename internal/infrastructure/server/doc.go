/*
Package server is the composition root. It builds the progress bus, the
app supervisor and registry, the identity engine and the platform registry
from a config.Config, connects them, and serves the HTTP API.

Startup order:

 1. Ensure the apps and data directories exist.
 2. Load the persisted app list.
 3. Register app directories that are not in the list yet.
 4. Autostart enabled apps.
 5. Start the device platforms. Failures are logged, not fatal.

A Bridge carries data between apps and devices. App data whose payload
names a clientId goes to that client through a provider that can
communicate; other app data is broadcast. Device data is posted to the app
it names when that app is running.

Routes other than WebSocket upgrades are gzip compressed.
*/
package server
