package blockchain

// Read-only fragments of the CRISP voting plugin and the IVotes token. Only
// the calls this client makes are declared.

const pluginABI = `[
  {"type":"function","name":"getProposal","stateMutability":"view",
   "inputs":[{"name":"_proposalId","type":"uint256"}],
   "outputs":[
     {"name":"active","type":"bool"},
     {"name":"executed","type":"bool"},
     {"name":"parameters","type":"tuple","components":[
       {"name":"startDate","type":"uint64"},
       {"name":"endDate","type":"uint64"},
       {"name":"snapshotBlock","type":"uint64"},
       {"name":"minVotingPower","type":"uint256"}]},
     {"name":"tally","type":"uint256[]"},
     {"name":"actions","type":"tuple[]","components":[
       {"name":"to","type":"address"},
       {"name":"value","type":"uint256"},
       {"name":"data","type":"bytes"}]},
     {"name":"allowFailureMap","type":"uint256"},
     {"name":"e3Id","type":"uint256"}]},
  {"type":"function","name":"getTally","stateMutability":"view",
   "inputs":[{"name":"_proposalId","type":"uint256"}],
   "outputs":[{"name":"tally","type":"uint256[]"},{"name":"isTallied","type":"bool"}]},
  {"type":"function","name":"canExecute","stateMutability":"view",
   "inputs":[{"name":"_proposalId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"canVote","stateMutability":"view",
   "inputs":[{"name":"_proposalId","type":"uint256"},{"name":"_voter","type":"address"},{"name":"_voteOption","type":"uint8"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"minProposerVotingPower","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"ProposalCreated","anonymous":false,
   "inputs":[
     {"name":"proposalId","type":"uint256","indexed":true},
     {"name":"creator","type":"address","indexed":true},
     {"name":"startDate","type":"uint64","indexed":false},
     {"name":"endDate","type":"uint64","indexed":false},
     {"name":"metadata","type":"bytes","indexed":false},
     {"name":"actions","type":"tuple[]","indexed":false,"components":[
       {"name":"to","type":"address"},
       {"name":"value","type":"uint256"},
       {"name":"data","type":"bytes"}]},
     {"name":"allowFailureMap","type":"uint256","indexed":false}]}
]`

const votesABI = `[
  {"type":"function","name":"getPastVotes","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"},{"name":"timepoint","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getPastTotalSupply","stateMutability":"view",
   "inputs":[{"name":"timepoint","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`
