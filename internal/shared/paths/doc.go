// Package paths defines the on-disk layout shared by the app store and the
// process supervisor.
//
//	<apps>/<name>/            installed app sources, entry point inside
//	<data>/apps.json          persisted app list
//	<data>/apps/<name>/       private data of one app, removed on purge
//
// App names become path components, so every helper that takes a name
// expects it to have passed ValidateAppName.
package paths
