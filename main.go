// ftx uploads files to a receiver with resume and end-to-end CRC-32
// verification, over TCP or a WebRTC data channel.
package main

import "ftx/cmd"

func main() {
	cmd.Execute()
}
